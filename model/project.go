package model

import (
	"time"

	"github.com/Laisky/errors/v2"
	gocache "github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"github.com/proxed/gateway/common/config"
)

// Project is the unit of authentication: one client application bound to a
// team, a provider key fragment, and optional DeviceCheck credentials.
type Project struct {
	Id     string `json:"id" gorm:"type:char(36);primaryKey"`
	TeamId string `json:"team_id" gorm:"type:char(36);index"`
	Name   string `json:"name"`

	// Active gates all relay traffic for the project.
	Active bool `json:"active" gorm:"default:true"`

	// TestMode allows authentication with TestKey instead of device
	// attestation. Traffic is accounted normally.
	TestMode bool   `json:"test_mode" gorm:"default:false"`
	TestKey  string `json:"-" gorm:"type:varchar(128)"`

	// ServerKeyFragment is the server half of the split provider key. The
	// client half arrives per request and the two are only ever joined in
	// memory.
	ServerKeyFragment string `json:"-" gorm:"type:text"`

	// DeviceCheck signing material. Empty AppleTeamId disables attestation
	// for the project, which makes non-test requests unauthenticatable.
	AppleTeamId          string `json:"-" gorm:"type:char(10)"`
	DeviceCheckKeyId     string `json:"-" gorm:"type:varchar(32)"`
	DeviceCheckKeyPEM    string `json:"-" gorm:"type:text"`
	NotificationsEnabled bool   `json:"notifications_enabled" gorm:"default:false"`

	CreatedAt int64 `json:"created_at" gorm:"bigint;autoCreateTime:milli"`
	UpdatedAt int64 `json:"updated_at" gorm:"bigint;autoUpdateTime:milli"`
}

// ErrProjectNotFound distinguishes a missing project from database failure.
var ErrProjectNotFound = errors.New("project not found")

var projectCache = gocache.New(
	time.Duration(config.ProjectAuthCacheSeconds)*time.Second,
	5*time.Minute,
)

// GetProjectById fetches a project by primary key, serving repeated lookups
// from a short-lived in-process cache. Auth runs on every relay request, so
// the hot path must not hit the database each time.
func GetProjectById(id string) (*Project, error) {
	if id == "" {
		return nil, errors.WithStack(ErrProjectNotFound)
	}
	if cached, ok := projectCache.Get(id); ok {
		return cached.(*Project), nil
	}

	var project Project
	err := guarded(func() error {
		return DB.Where("id = ?", id).First(&project).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.WithStack(ErrProjectNotFound)
		}
		return nil, errors.Wrap(err, "get project")
	}

	projectCache.SetDefault(id, &project)
	return &project, nil
}

// InvalidateProjectCache drops the cached snapshot after a project update.
func InvalidateProjectCache(id string) {
	projectCache.Delete(id)
}

// HasDeviceCheck reports whether the project carries complete attestation
// credentials.
func (p *Project) HasDeviceCheck() bool {
	return p.AppleTeamId != "" && p.DeviceCheckKeyId != "" && p.DeviceCheckKeyPEM != ""
}
