package gate

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"abuse-gateway/internal/audit"
	"abuse-gateway/internal/identity"
	"abuse-gateway/internal/limiter"
	"abuse-gateway/internal/models"
	"abuse-gateway/internal/policy"
	"abuse-gateway/internal/revocation"
	"abuse-gateway/internal/util"
)

// Verdict is the outcome of one gate evaluation.
type Verdict struct {
	Allowed bool
	// Err classifies a denial (ErrRateLimited, ErrLockedOut,
	// ErrSessionRevoked). Nil when allowed.
	Err error
	// RetryAfter is how long the caller should wait before retrying a
	// rate or lockout denial.
	RetryAfter time.Duration
	// Identity and Policy identify the counter the request was evaluated
	// against; collaborators use them to reset after success.
	Identity string
	Policy   string
	// Principal is the authenticated subject, when a credential decoded.
	Principal string
}

// Gate is the per-request orchestrator: revocation lookup, identity
// resolution, lockout check and sliding-window admission, combined into a
// single allow/deny decision.
type Gate struct {
	registry    *policy.Registry
	store       limiter.Store
	revocations revocation.Store
	resolver    *identity.Resolver
	decoder     CredentialDecoder
	recorder    *audit.Recorder
	routes      *RouteTable
	logger      *zap.Logger
	now         func() time.Time
}

// Options carries the gate's collaborators. Decoder may be nil for
// deployments that terminate authentication elsewhere.
type Options struct {
	Registry    *policy.Registry
	Store       limiter.Store
	Revocations revocation.Store
	Resolver    *identity.Resolver
	Decoder     CredentialDecoder
	Recorder    *audit.Recorder
	Routes      *RouteTable
	Logger      *zap.Logger
	Now         func() time.Time
}

// New wires a gate and validates its route table against the policy
// registry. A route bound to an unknown policy is a configuration error
// surfaced here, before the service accepts traffic.
func New(opts Options) (*Gate, error) {
	if opts.Registry == nil || opts.Store == nil || opts.Revocations == nil {
		return nil, fmt.Errorf("gate requires a policy registry, a limiter store and a revocation store")
	}
	if opts.Routes == nil {
		opts.Routes = DefaultRoutes()
	}
	if opts.Resolver == nil {
		opts.Resolver = identity.NewResolver()
	}
	if opts.Logger == nil {
		opts.Logger = util.Get()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	if err := opts.Registry.Validate(opts.Routes.PolicyNames()...); err != nil {
		return nil, fmt.Errorf("route table validation: %w", err)
	}

	return &Gate{
		registry:    opts.Registry,
		store:       opts.Store,
		revocations: opts.Revocations,
		resolver:    opts.Resolver,
		decoder:     opts.Decoder,
		recorder:    opts.Recorder,
		routes:      opts.Routes,
		logger:      opts.Logger,
		now:         opts.Now,
	}, nil
}

// Evaluate runs the full decision for one inbound request. It always
// returns a usable verdict: infrastructure faults fail open and are
// audited, never surfaced to the caller.
func (g *Gate) Evaluate(req *http.Request) *Verdict {
	path := req.URL.Path

	rule, protected, exempted := g.routes.Match(path)
	if exempted || !protected {
		return &Verdict{Allowed: true}
	}

	rawToken := bearerToken(req)
	principal := g.decodePrincipal(rawToken)

	// Revocation precedes rate evaluation: a blacklisted session gets a
	// distinct terminal answer, not a retry hint.
	if rawToken != "" && rule.RequireCredential {
		if verdict := g.checkRevocation(path, rawToken, principal); verdict != nil {
			return verdict
		}
	}

	if rule.Policy == "" {
		return &Verdict{Allowed: true, Principal: principal}
	}

	pol, ok := g.registry.Lookup(rule.Policy)
	if !ok {
		// Unreachable after New's validation; absence of a policy is
		// "no limit", never "deny".
		return &Verdict{Allowed: true, Principal: principal}
	}

	ident := g.resolver.Resolve(req, principal)
	return g.evaluateRate(path, ident, principal, pol)
}

// Reset clears the window and any lockout for (identity, policy). Called
// by collaborators after the guarded operation succeeds so legitimate
// recovery is immediate.
func (g *Gate) Reset(ctx context.Context, ident, policyName string) error {
	key := counterKey(ident, policyName)
	if err := g.store.Reset(ctx, key); err != nil {
		return fmt.Errorf("reset counter %s: %w", key, err)
	}

	g.record(models.SecurityEvent{
		EventType: models.EventCounterReset,
		Identity:  ident,
		Policy:    policyName,
	})
	return nil
}

func (g *Gate) checkRevocation(path, rawToken, principal string) *Verdict {
	tokenID := revocation.TokenIdentity(rawToken)

	revoked, err := g.revocations.IsRevoked(context.Background(), tokenID, principal)
	if err != nil {
		// Fail open: the platform's token expiry and signature checks
		// still bound exposure, and this secondary check must not be able
		// to take all traffic down.
		g.logger.Warn("Revocation store unreachable, failing open",
			zap.String("path", path),
			zap.Error(err))
		g.record(models.SecurityEvent{
			EventType: models.EventFailOpenAdmit,
			Identity:  principal,
			Path:      path,
			Detail:    "revocation check failed open: " + err.Error(),
		})
		return nil
	}

	if revoked {
		g.record(models.SecurityEvent{
			EventType: models.EventSessionRevoked,
			Identity:  principal,
			Path:      path,
		})
		return &Verdict{
			Allowed:   false,
			Err:       ErrSessionRevoked,
			Principal: principal,
		}
	}

	return nil
}

func (g *Gate) evaluateRate(path, ident, principal string, pol policy.Policy) *Verdict {
	now := g.now()
	key := counterKey(ident, pol.Name)

	verdict := &Verdict{
		Identity:  ident,
		Policy:    pol.Name,
		Principal: principal,
	}

	// An active lockout takes precedence over the window: a window that
	// slid empty mid-block must not open a bypass.
	until, locked, err := g.store.CheckLock(context.Background(), key)
	if err != nil {
		return g.failOpen(verdict, path, "lockout check", err)
	}
	if locked {
		verdict.Err = ErrLockedOut
		verdict.RetryAfter = until.Sub(now)
		g.record(models.SecurityEvent{
			EventType: models.EventLockedOut,
			Identity:  ident,
			Policy:    pol.Name,
			Path:      path,
		})
		return verdict
	}

	decision, err := g.store.Admit(context.Background(), key, pol.Limit, pol.Window)
	if err != nil {
		return g.failOpen(verdict, path, "window admit", err)
	}

	if decision.Allowed {
		verdict.Allowed = true
		return verdict
	}

	verdict.Err = ErrRateLimited
	verdict.RetryAfter = decision.RetryAfter(pol.Window, now)

	g.record(models.SecurityEvent{
		EventType: models.EventRateLimited,
		Identity:  ident,
		Policy:    pol.Name,
		Path:      path,
		Detail:    fmt.Sprintf("%d attempts in window (limit %d)", decision.Count, pol.Limit),
	})

	// Escalate to a hard block when the policy defines one. The denial
	// that places the lock still reports the window-derived retry hint;
	// subsequent attempts are answered by the lock itself.
	if pol.HasLockout() {
		lockUntil := now.Add(pol.Lockout)
		if err := g.store.Lock(context.Background(), key, lockUntil); err != nil {
			g.logger.Error("Failed to place lockout",
				zap.String("key", key),
				zap.Error(err))
		} else {
			g.record(models.SecurityEvent{
				EventType: models.EventLockedOut,
				Identity:  ident,
				Policy:    pol.Name,
				Path:      path,
				Detail:    "lockout placed until " + lockUntil.Format(time.RFC3339),
			})
		}
	}

	return verdict
}

func (g *Gate) failOpen(verdict *Verdict, path, check string, err error) *Verdict {
	g.logger.Warn("Rate store unreachable, failing open",
		zap.String("check", check),
		zap.String("key", counterKey(verdict.Identity, verdict.Policy)),
		zap.Error(err))
	g.record(models.SecurityEvent{
		EventType: models.EventFailOpenAdmit,
		Identity:  verdict.Identity,
		Policy:    verdict.Policy,
		Path:      path,
		Detail:    check + " failed open: " + err.Error(),
	})
	verdict.Allowed = true
	verdict.Err = nil
	return verdict
}

func (g *Gate) decodePrincipal(rawToken string) string {
	if rawToken == "" || g.decoder == nil {
		return ""
	}
	claims, err := g.decoder.Decode(rawToken)
	if err != nil || claims == nil {
		// Not our call to reject: the verifying collaborator will.
		return ""
	}
	return claims.Subject
}

func (g *Gate) record(event models.SecurityEvent) {
	if g.recorder != nil {
		g.recorder.Record(event)
	}
}

func counterKey(ident, policyName string) string {
	return ident + ":" + policyName
}

func bearerToken(req *http.Request) string {
	header := req.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
