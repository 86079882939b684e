package middleware

import (
	"encoding/base64"
	"strings"

	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Laisky/errors/v2"

	"github.com/proxed/gateway/common/ctxkey"
	"github.com/proxed/gateway/common/render"
	"github.com/proxed/gateway/model"
	"github.com/proxed/gateway/relay/attestation"
	"github.com/proxed/gateway/relay/meta"
	relaymodel "github.com/proxed/gateway/relay/model"
	"github.com/proxed/gateway/relay/provider"
)

const (
	headerPartialKey  = "x-ai-key"
	headerDeviceToken = "x-device-token"
	headerTestKey     = "x-proxed-test-key"
)

// RelayAuth resolves the caller's identity for one relay request. The checks
// run in a fixed order and the first match wins; on success a session is
// attached to the context, otherwise the request is aborted.
func RelayAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		adapter, err := provider.GetAdapter(c.Param("provider"))
		if err != nil {
			render.Error(c, relaymodel.WrapError(relaymodel.CodeBadRequest,
				"unsupported provider", err))
			return
		}

		project, errResp := resolveProject(c)
		if errResp != nil {
			render.Error(c, errResp)
			return
		}

		session, errResp := resolveSession(c, project)
		if errResp != nil {
			render.Error(c, errResp)
			return
		}
		session.Provider = adapter
		meta.Store(c, session)
		c.Set(ctxkey.Project, project)
		c.Next()
	}
}

// resolveProject validates the path-supplied project id and loads its
// authorization snapshot.
func resolveProject(c *gin.Context) (*model.Project, *relaymodel.ErrorWithStatusCode) {
	projectId := c.Param("projectId")
	if projectId == "" {
		return nil, relaymodel.NewError(relaymodel.CodeMissingProjectId,
			"project id is required")
	}
	if _, err := uuid.Parse(projectId); err != nil {
		return nil, relaymodel.WrapError(relaymodel.CodeValidationError,
			"project id is not a valid identifier", err)
	}

	project, err := model.GetProjectById(projectId)
	if err != nil {
		if errors.Is(err, model.ErrProjectNotFound) {
			return nil, relaymodel.NewError(relaymodel.CodeProjectNotFound,
				"project not found")
		}
		return nil, relaymodel.WrapError(relaymodel.CodeDatabaseError,
			"failed to load project", err)
	}
	if !project.Active {
		return nil, relaymodel.NewError(relaymodel.CodeForbidden,
			"project is inactive")
	}
	return project, nil
}

// resolveSession walks the credential precedence: test key, combined Bearer
// token, then the legacy split headers.
func resolveSession(c *gin.Context, project *model.Project) (*meta.Session, *relaymodel.ErrorWithStatusCode) {
	partialKey := c.GetHeader(headerPartialKey)

	// Test key short-circuits everything else, including the limits gate.
	if testKey := c.GetHeader(headerTestKey); testKey != "" &&
		project.TestMode && testKey == project.TestKey {
		if partialKey == "" {
			return nil, relaymodel.NewError(relaymodel.CodeUnauthorized,
				"test key requires a partial key header")
		}
		return &meta.Session{
			ProjectID:  project.Id,
			TeamID:     project.TeamId,
			PartialKey: partialKey,
			Token:      testKey,
			TestMode:   true,
		}, nil
	}

	if errResp := checkTeamLimits(project.TeamId); errResp != nil {
		return nil, errResp
	}

	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return resolveBearerSession(c, project, strings.TrimPrefix(auth, "Bearer "))
	}

	if deviceToken := c.GetHeader(headerDeviceToken); deviceToken != "" && project.HasDeviceCheck() {
		if partialKey == "" {
			return nil, relaymodel.NewError(relaymodel.CodeUnauthorized,
				"device token requires a partial key header")
		}
		if errResp := verifyDeviceToken(c, project, deviceToken); errResp != nil {
			return nil, errResp
		}
		return &meta.Session{
			ProjectID:  project.Id,
			TeamID:     project.TeamId,
			PartialKey: partialKey,
		}, nil
	}

	return nil, relaymodel.NewError(relaymodel.CodeUnauthorized,
		"no valid credentials supplied")
}

// resolveBearerSession handles "Bearer <partialKey>.<token>". The format
// check runs before any attestation network call.
func resolveBearerSession(c *gin.Context, project *model.Project, bearer string) (*meta.Session, *relaymodel.ErrorWithStatusCode) {
	keyPart, tokenPart, found := strings.Cut(bearer, ".")
	if !found || keyPart == "" || tokenPart == "" {
		return nil, relaymodel.NewError(relaymodel.CodeInvalidToken,
			"bearer token must be <partialKey>.<token>")
	}

	session := &meta.Session{
		ProjectID:  project.Id,
		TeamID:     project.TeamId,
		PartialKey: keyPart,
		Token:      tokenPart,
	}

	if project.TestMode && tokenPart == project.TestKey {
		session.TestMode = true
		return session, nil
	}

	if !project.HasDeviceCheck() {
		return nil, relaymodel.NewError(relaymodel.CodeUnauthorized,
			"project has no device attestation configured")
	}
	if errResp := verifyDeviceToken(c, project, tokenPart); errResp != nil {
		return nil, errResp
	}
	return session, nil
}

func checkTeamLimits(teamId string) *relaymodel.ErrorWithStatusCode {
	limits, err := model.GetTeamLimits(teamId)
	if err != nil {
		if errors.Is(err, model.ErrLimitsNotFound) {
			// No billing record means no subscription; this is an auth
			// failure, not a pass-through.
			return relaymodel.NewError(relaymodel.CodeUnauthorized,
				"no billing limits found for team")
		}
		return relaymodel.WrapError(relaymodel.CodeDatabaseError,
			"failed to load team limits", err)
	}
	if limits.QuotaReached() {
		return relaymodel.NewError(relaymodel.CodeForbidden,
			"team api call quota reached")
	}
	return nil
}

func verifyDeviceToken(c *gin.Context, project *model.Project, deviceToken string) *relaymodel.ErrorWithStatusCode {
	if _, err := base64.StdEncoding.DecodeString(deviceToken); err != nil {
		return relaymodel.WrapError(relaymodel.CodeInvalidToken,
			"device token is not valid base64", err)
	}

	creds := attestation.Credentials{
		AppleTeamID:   project.AppleTeamId,
		KeyID:         project.DeviceCheckKeyId,
		PrivateKeyPEM: project.DeviceCheckKeyPEM,
	}
	if err := attestation.Verify(c.Request.Context(), creds, deviceToken); err != nil {
		gmw.GetLogger(c).Warn("device attestation failed",
			zap.String("project_id", project.Id),
			zap.Error(err))
		return relaymodel.NewError(relaymodel.CodeUnauthorized,
			"device attestation failed")
	}
	return nil
}
