package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Provider answers "who is the local editor" from one source. A nil
// Identity with nil error means "unknown" — this provider has no opinion
// and the chain moves on. Providers never fail the chain for expected
// conditions (missing token, absent claims); errors are reserved for
// genuinely broken state.
type Provider interface {
	Name() string
	Resolve(ctx context.Context) (*Identity, error)
}

// Chain evaluates providers in priority order; the first definitive
// answer wins. There is no field-level merging across providers — a
// provider either knows the whole identity or stays silent.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

// NewChain builds a provider chain. Order is priority order.
func NewChain(logger *slog.Logger, providers ...Provider) *Chain {
	return &Chain{providers: providers, logger: logger}
}

// Resolve walks the chain. A provider error is logged and skipped — a
// broken source must not mask a working lower-priority one. If no
// provider answers, the result is a read-only viewer.
func (c *Chain) Resolve(ctx context.Context) *Identity {
	for _, p := range c.providers {
		id, err := p.Resolve(ctx)
		if err != nil {
			c.logger.Warn("identity provider failed, trying next",
				slog.String("provider", p.Name()),
				slog.String("error", err.Error()),
			)

			continue
		}

		if id == nil {
			continue
		}

		c.logger.Debug("identity resolved",
			slog.String("provider", p.Name()),
			slog.String("scheduler", id.Scheduler),
			slog.String("role", string(id.Role)),
		)

		return id
	}

	return &Identity{Role: RoleViewer}
}

// ConfigProvider answers from explicit config overrides. Definitive only
// when the config names a role — a scheduler name alone is not an
// authorization claim.
type ConfigProvider struct {
	Scheduler string
	Role      string
	Divisions []string
}

func (p *ConfigProvider) Name() string { return "config" }

func (p *ConfigProvider) Resolve(_ context.Context) (*Identity, error) {
	if p.Role == "" {
		return nil, nil //nolint:nilnil // unknown, not an error
	}

	role, ok := ParseRole(p.Role)
	if !ok {
		return nil, fmt.Errorf("identity: unknown configured role %q", p.Role)
	}

	return &Identity{
		Scheduler: p.Scheduler,
		Role:      role,
		Divisions: p.Divisions,
	}, nil
}

// tokenClaims is the claim shape the login service embeds in access
// tokens. Divisions may arrive as a list or a comma-separated string
// depending on the issuing path.
type tokenClaims struct {
	Role      string `json:"app_role"`
	Scheduler string `json:"scheduler"`
	Divisions any    `json:"divisions"`
	jwt.RegisteredClaims
}

// TokenClaimsProvider answers from the access token's custom claims.
// The token is parsed without signature verification: the store verifies
// signatures server-side on every request, and the client only needs the
// claims to decide whether to bother attempting writes at all.
type TokenClaimsProvider struct {
	Token oauth2.TokenSource
}

func (p *TokenClaimsProvider) Name() string { return "token-claims" }

func (p *TokenClaimsProvider) Resolve(_ context.Context) (*Identity, error) {
	if p.Token == nil {
		return nil, nil //nolint:nilnil // unknown, not an error
	}

	tok, err := p.Token.Token()
	if err != nil {
		// No token yet (not logged in) is an unknown, not a failure.
		return nil, nil //nolint:nilnil
	}

	var claims tokenClaims

	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tok.AccessToken, &claims); err != nil {
		return nil, fmt.Errorf("identity: parsing access token claims: %w", err)
	}

	if claims.Role == "" {
		return nil, nil //nolint:nilnil // token carries no role claim
	}

	role, ok := ParseRole(claims.Role)
	if !ok {
		return nil, fmt.Errorf("identity: unknown role claim %q", claims.Role)
	}

	scheduler := claims.Scheduler
	if scheduler == "" {
		scheduler = claims.Subject
	}

	return &Identity{
		Scheduler: scheduler,
		Role:      role,
		Divisions: parseDivisionsClaim(claims.Divisions),
	}, nil
}

// parseDivisionsClaim accepts both claim encodings.
func parseDivisionsClaim(v any) []string {
	switch d := v.(type) {
	case []any:
		out := make([]string, 0, len(d))
		for _, e := range d {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}

		return out

	case string:
		if d == "" {
			return nil
		}

		parts := strings.Split(d, ",")
		out := make([]string, 0, len(parts))

		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}

		return out

	default:
		return nil
	}
}

// StaticProvider always answers with a fixed identity. Used as the chain
// terminator in tests and for read-only tooling.
type StaticProvider struct {
	Identity Identity
}

func (p *StaticProvider) Name() string { return "static" }

func (p *StaticProvider) Resolve(_ context.Context) (*Identity, error) {
	id := p.Identity
	return &id, nil
}
