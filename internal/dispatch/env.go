package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/animus-labs/workflow-svc/internal/catalog"
	"github.com/animus-labs/workflow-svc/internal/submission"
)

const (
	envToken    = "NEXUS_TOKEN"
	envWorkflow = "NEXUS_WORKFLOW"
	envDebug    = "DEBUG"
)

// environment merges, in increasing precedence, the forwarded process
// variables, the session credential, the debug flag and the parameters read
// from the task config.
func (api *API) environment(credential string, params map[string]string) map[string]string {
	env := make(map[string]string, len(api.Forward)+len(params)+2)
	for k, v := range api.Forward {
		env[k] = v
	}
	env[envToken] = credential
	if api.Debug {
		env[envDebug] = "True"
	}
	for k, v := range params {
		env[k] = v
	}
	return env
}

// provenanceWanted reports whether a workflow record should be created for
// env. Both organization and project are required, and a set NEXUS_NO_PROV
// turns registration off unless it spells false.
func provenanceWanted(env map[string]string) bool {
	if strings.TrimSpace(env[submission.ParamOrg]) == "" || strings.TrimSpace(env[submission.ParamProj]) == "" {
		return false
	}
	noProv, set := env[submission.ParamNoProv]
	if !set {
		return true
	}
	if off, err := strconv.ParseBool(strings.TrimSpace(noProv)); err == nil && !off {
		return true
	}
	return false
}

func (api *API) registerProvenance(ctx context.Context, env map[string]string, token, module, task, cfgName string, archive []byte) (*catalog.Record, error) {
	if !provenanceWanted(env) {
		api.Logger.WarnContext(ctx, "workflow provenance will not be registered", "launch_id", token)
		return nil, nil
	}
	if api.Catalog == nil {
		api.Logger.WarnContext(ctx, "workflow provenance will not be registered: catalog disabled", "launch_id", token)
		return nil, nil
	}

	accessToken, err := api.Tokens.Refresh(ctx, env[envToken])
	if err != nil {
		return nil, fmt.Errorf("refresh catalog token: %w", err)
	}
	loc := catalog.Location{
		Base: env[submission.ParamBase],
		Org:  env[submission.ParamOrg],
		Proj: env[submission.ParamProj],
	}
	rec, err := api.Catalog.Register(ctx, accessToken, loc, catalog.WorkflowExecution{
		Name:           module + "." + task,
		Module:         module,
		Task:           task,
		Version:        api.Version,
		ConfigFileName: cfgName,
		StartedAt:      api.clock().UTC(),
	}, catalog.Archive{
		Name:        token + ".zip",
		ContentType: "application/zip",
		Body:        archive,
	})
	if err != nil {
		return nil, err
	}
	api.Logger.InfoContext(ctx, "workflow registered", "launch_id", token, "workflow_id", rec.ID, "url", rec.URL)
	return &rec, nil
}
