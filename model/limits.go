package model

import (
	"time"

	"github.com/Laisky/errors/v2"
	gocache "github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"github.com/proxed/gateway/common/config"
)

// TeamLimits is a team's billing state: its plan allowance and the usage
// consumed in the current period. A team with no row is treated as having no
// valid subscription.
type TeamLimits struct {
	TeamId string `json:"team_id" gorm:"type:char(36);primaryKey"`
	Plan   string `json:"plan"`

	// ApiCallsLimit is the period allowance; 0 means the plan grants no
	// calls, a negative value means unlimited.
	ApiCallsLimit int64 `json:"api_calls_limit" gorm:"bigint;default:0"`
	// ApiCallsUsed is the usage consumed so far this period.
	ApiCallsUsed int64 `json:"api_calls_used" gorm:"bigint;default:0"`

	PeriodStart int64 `json:"period_start" gorm:"bigint"`
	PeriodEnd   int64 `json:"period_end" gorm:"bigint"`
	UpdatedAt   int64 `json:"updated_at" gorm:"bigint;autoUpdateTime:milli"`
}

// ErrLimitsNotFound marks a team with no billing record.
var ErrLimitsNotFound = errors.New("team limits not found")

var limitsCache = gocache.New(
	time.Duration(config.TeamLimitsCacheSeconds)*time.Second,
	5*time.Minute,
)

// GetTeamLimits fetches a team's billing limits through the in-process
// cache. Staleness up to the cache window is acceptable: the limit check is
// a soft gate, not a ledger.
func GetTeamLimits(teamId string) (*TeamLimits, error) {
	if teamId == "" {
		return nil, errors.WithStack(ErrLimitsNotFound)
	}
	if cached, ok := limitsCache.Get(teamId); ok {
		return cached.(*TeamLimits), nil
	}

	var limits TeamLimits
	err := guarded(func() error {
		return DB.Where("team_id = ?", teamId).First(&limits).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.WithStack(ErrLimitsNotFound)
		}
		return nil, errors.Wrap(err, "get team limits")
	}

	limitsCache.SetDefault(teamId, &limits)
	return &limits, nil
}

// QuotaReached reports whether the team has consumed its period allowance.
func (l *TeamLimits) QuotaReached() bool {
	if l.ApiCallsLimit < 0 {
		return false
	}
	return l.ApiCallsUsed >= l.ApiCallsLimit
}

// IncrementTeamUsage bumps the consumed-call counter after a successful
// relay. The cached snapshot is dropped so the next auth check sees fresh
// usage within one cache window.
func IncrementTeamUsage(teamId string) error {
	err := guarded(func() error {
		return DB.Model(&TeamLimits{}).
			Where("team_id = ?", teamId).
			UpdateColumn("api_calls_used", gorm.Expr("api_calls_used + ?", 1)).Error
	})
	if err != nil {
		return errors.Wrap(err, "increment team usage")
	}
	limitsCache.Delete(teamId)
	return nil
}
