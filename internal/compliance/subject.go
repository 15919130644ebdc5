package compliance

import (
	"fmt"

	"myhealth-hrv/internal/models"
)

// SubjectKind 受试者标识类型
type SubjectKind int

const (
	// KindDeviceAccount 设备账号（如 Fitbit 用户 ID），数据在 intraday_heart_rate
	KindDeviceAccount SubjectKind = iota
	// KindProfile 用户名 + 生年月日，数据在 polar_heart_rate
	KindProfile
)

// Subject 充足率计算的受试者，两种标识只影响取数条件，算法相同
type Subject struct {
	Kind      SubjectKind
	AccountID string
	Profile   models.SubjectKey
}

// DeviceAccount 按设备账号标识
func DeviceAccount(accountID string) Subject {
	return Subject{Kind: KindDeviceAccount, AccountID: accountID}
}

// Profile 按用户名 + 生年月日标识
func Profile(username, dateOfBirth string) Subject {
	return Subject{
		Kind:    KindProfile,
		Profile: models.SubjectKey{Username: username, DateOfBirth: dateOfBirth},
	}
}

// String 用于日志和缓存键
func (s Subject) String() string {
	if s.Kind == KindDeviceAccount {
		return "account:" + s.AccountID
	}
	return "profile:" + s.Profile.String()
}

// Validate 标识字段不能为空
func (s Subject) Validate() error {
	switch s.Kind {
	case KindDeviceAccount:
		if s.AccountID == "" {
			return fmt.Errorf("%w: empty account id", ErrInvalidSubject)
		}
	case KindProfile:
		if !s.Profile.Valid() {
			return fmt.Errorf("%w: username and date of birth are required", ErrInvalidSubject)
		}
	default:
		return fmt.Errorf("%w: unknown subject kind %d", ErrInvalidSubject, s.Kind)
	}
	return nil
}
