// Package security screens requests and tool arguments before they reach an
// agent or a tool. Blocked inputs produce a core.Blocked result.
package security

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/hupe1980/devmesh/core"
	"github.com/hupe1980/devmesh/observability"
)

// Block reasons.
const (
	ReasonDangerous        = "dangerous input detected"
	ReasonInjection        = "prompt injection indicators detected"
	ReasonPII              = "possible PII detected (email)"
	ReasonSecret           = "possible secret detected"
	ReasonTooLarge         = "request too large"
	ReasonCodeTooLarge     = "code too large"
	ReasonForbiddenImports = "forbidden imports in code"
)

// CodeExecutorTool is the tool name whose arguments get code checks.
const CodeExecutorTool = "code_executor"

var (
	dangerousMarkers   = []string{"rm -rf", "format c:"}
	injectionMarkers   = []string{"ignore previous", "disregard instructions", "override policy"}
	emailPattern       = regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.-]+`)
	secretPattern      = regexp.MustCompile(`(?i)(?:api|secret|token|key)[^\n]{0,20}[A-Za-z0-9_\-]{16,}`)
	forbiddenCodeUsage = regexp.MustCompile(`\b(import\s+(socket|subprocess|pty|fcntl))\b`)
)

// Config configures a Guard.
type Config struct {
	Enabled         bool
	MaxRequestChars int
	MaxToolCodeLen  int
	BlockPII        bool
	BlockSecrets    bool
}

// DefaultConfig enables every check with the standard limits.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		MaxRequestChars: 200000,
		MaxToolCodeLen:  100000,
		BlockPII:        true,
		BlockSecrets:    true,
	}
}

// Guard runs the request and tool checks. A nil *Guard allows everything.
type Guard struct {
	cfg     Config
	metrics *observability.Metrics
}

// Options configures optional Guard collaborators.
type Options struct {
	Metrics *observability.Metrics
}

// New creates a guard.
func New(cfg Config, optFns ...func(o *Options)) *Guard {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Guard{cfg: cfg, metrics: opts.Metrics}
}

// CheckRequest screens a request. It returns nil when the request may
// proceed, otherwise a blocked result.
func (g *Guard) CheckRequest(req core.Request) core.Result {
	if g == nil || !g.cfg.Enabled {
		return nil
	}
	if reason := g.requestReason(serialize(req)); reason != "" {
		g.metrics.IncSecurityBlocked(reason)
		return core.Blocked(reason)
	}
	return nil
}

func (g *Guard) requestReason(text string) string {
	for _, m := range dangerousMarkers {
		if strings.Contains(text, m) {
			return ReasonDangerous
		}
	}
	lower := strings.ToLower(text)
	for _, m := range injectionMarkers {
		if strings.Contains(lower, m) {
			return ReasonInjection
		}
	}
	if g.cfg.BlockPII && emailPattern.MatchString(text) {
		return ReasonPII
	}
	if g.cfg.BlockSecrets && secretPattern.MatchString(text) {
		return ReasonSecret
	}
	if g.cfg.MaxRequestChars > 0 && len([]rune(text)) > g.cfg.MaxRequestChars {
		return ReasonTooLarge
	}
	return ""
}

// CheckTool screens the arguments of a tool call. Only the code executor has
// checks today.
func (g *Guard) CheckTool(name string, args core.Request) core.Result {
	if g == nil || !g.cfg.Enabled || name != CodeExecutorTool {
		return nil
	}
	code := fmt.Sprint(args[core.KeyCode])
	if args[core.KeyCode] == nil {
		code = ""
	}
	if g.cfg.MaxToolCodeLen > 0 && len([]rune(code)) > g.cfg.MaxToolCodeLen {
		g.metrics.IncSecurityBlocked(ReasonCodeTooLarge)
		return core.Blocked(ReasonCodeTooLarge)
	}
	if forbiddenCodeUsage.MatchString(code) {
		g.metrics.IncSecurityBlocked(ReasonForbiddenImports)
		return core.Blocked(ReasonForbiddenImports)
	}
	return nil
}

// serialize renders the request as the text the checks run on. Values that
// cannot be encoded fall back to their printed form.
func serialize(req core.Request) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any(req)); err != nil {
		return fmt.Sprint(map[string]any(req))
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
