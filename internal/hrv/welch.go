package hrv

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/integrate"
)

// ErrSpectralEstimate 频域估计失败（数据不足或数值异常）
var ErrSpectralEstimate = errors.New("spectral estimate failed")

// Spectrum 单边功率谱密度
type Spectrum struct {
	Freqs []float64 // Hz
	PSD   []float64 // ms²/Hz
}

// WelchPSD Welch 法估计功率谱密度
//
// 与常见信号处理库的默认行为一致：周期 Hann 窗、50% 重叠、
// 每段减均值、密度缩放、单边谱、各段取平均。
// RR 序列并非等间隔采样，这里按固定采样率 fs 处理，这是已知的近似，
// 不做重采样修正。
func WelchPSD(x []float64, fs float64, nperseg int) (spec Spectrum, err error) {
	n := len(x)
	if n < 2 || nperseg < 2 || fs <= 0 {
		return Spectrum{}, fmt.Errorf("%w: n=%d nperseg=%d fs=%v", ErrSpectralEstimate, n, nperseg, fs)
	}
	if nperseg > n {
		nperseg = n
	}

	defer func() {
		if r := recover(); r != nil {
			spec = Spectrum{}
			err = fmt.Errorf("%w: %v", ErrSpectralEstimate, r)
		}
	}()

	win := hannPeriodic(nperseg)
	var winPower float64
	for _, w := range win {
		winPower += w * w
	}
	scale := 1.0 / (fs * winPower)

	noverlap := nperseg / 2
	step := nperseg - noverlap
	segments := (n - noverlap) / step

	nfreq := nperseg/2 + 1
	psd := make([]float64, nfreq)
	fft := fourier.NewFFT(nperseg)
	seg := make([]float64, nperseg)
	coeffs := make([]complex128, nfreq)

	for s := 0; s < segments; s++ {
		chunk := x[s*step : s*step+nperseg]

		var mean float64
		for _, v := range chunk {
			mean += v
		}
		mean /= float64(nperseg)
		for i, v := range chunk {
			seg[i] = (v - mean) * win[i]
		}

		coeffs = fft.Coefficients(coeffs, seg)
		for k, c := range coeffs {
			a := cmplx.Abs(c)
			psd[k] += a * a * scale
		}
	}

	for k := range psd {
		psd[k] /= float64(segments)
		// 单边谱：除直流分量和（偶数长度时的）奈奎斯特分量外乘 2
		if k == 0 || (nperseg%2 == 0 && k == nfreq-1) {
			continue
		}
		psd[k] *= 2
	}

	freqs := make([]float64, nfreq)
	for k := range freqs {
		freqs[k] = float64(k) * fs / float64(nperseg)
	}

	for _, p := range psd {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return Spectrum{}, fmt.Errorf("%w: non-finite power", ErrSpectralEstimate)
		}
	}

	return Spectrum{Freqs: freqs, PSD: psd}, nil
}

// BandPower 在 [lo, hi) 频带内对 PSD 做梯形积分
// 频带内少于 2 个频点时积分为 0
func (s Spectrum) BandPower(lo, hi float64) float64 {
	var xs, ys []float64
	for i, f := range s.Freqs {
		if f >= lo && f < hi {
			xs = append(xs, f)
			ys = append(ys, s.PSD[i])
		}
	}
	if len(xs) < 2 {
		return 0
	}
	return integrate.Trapezoidal(xs, ys)
}

func hannPeriodic(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}
