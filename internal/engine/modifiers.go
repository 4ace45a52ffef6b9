package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/a-essam23/go-huddle/pkg/config"
	"github.com/a-essam23/go-huddle/pkg/fault"
	"github.com/a-essam23/go-huddle/pkg/pipeline"
	"github.com/a-essam23/go-huddle/pkg/store"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// Validatable bodies check their own field constraints after decoding.
type Validatable interface {
	Validate() error
}

// Validate decodes the body into T after checking that every required path is
// present and non-null. The typed body is stored on the request for later steps.
func Validate[T Validatable](required ...string) pipeline.Step {
	return pipeline.Transform(func(req pipeline.Request) (pipeline.Request, error) {
		if len(req.Body) == 0 {
			if len(required) > 0 {
				return req, fault.Validation("request '%s' requires a body", req.Type)
			}
		} else if !gjson.ValidBytes(req.Body) {
			return req, fault.Validation("request '%s' body is not valid JSON", req.Type)
		}

		for _, path := range required {
			field := gjson.GetBytes(req.Body, path)
			if !field.Exists() || field.Type == gjson.Null {
				return req, fault.Validation("missing required field '%s'", path)
			}
		}

		var body T
		if len(req.Body) > 0 {
			if err := json.Unmarshal(req.Body, &body); err != nil {
				return req, fault.Validation("malformed body for '%s': %v", req.Type, err)
			}
		}
		if err := body.Validate(); err != nil {
			var fe *fault.Error
			if errors.As(err, &fe) {
				return req, err
			}
			return req, fault.Validation("%s", err.Error())
		}
		return req.WithDecoded(req.Body, body), nil
	})
}

// AttachIdentity looks up the person behind the connection's user id. It never
// rejects: guests and unknown users simply carry no person record.
func AttachIdentity(people store.PersonStore) pipeline.Step {
	return pipeline.Transform(func(req pipeline.Request) (pipeline.Request, error) {
		if !req.Authenticated() {
			return req, nil
		}
		person, err := people.GetPerson(req.Ctx, req.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return req.WithPerson(&store.Person{ID: req.UserID}), nil
		}
		if err != nil {
			return req, fmt.Errorf("failed to resolve identity for '%s': %w", req.UserID, err)
		}
		return req.WithPerson(person), nil
	})
}

// RequireIdentity rejects guests.
func RequireIdentity() pipeline.Step {
	return pipeline.Transform(func(req pipeline.Request) (pipeline.Request, error) {
		if !req.Authenticated() {
			return req, fault.Authorization("request '%s' requires an authenticated user", req.Type)
		}
		return req, nil
	})
}

// RequireChannel rejects requests from connections that have not joined a meeting.
func RequireChannel() pipeline.Step {
	return pipeline.Transform(func(req pipeline.Request) (pipeline.Request, error) {
		if !req.HasChannel() {
			return req, fault.Invariant("request '%s' requires joining a meeting first", req.Type)
		}
		return req, nil
	})
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const limiterSweepSize = 1024

// RateLimit allows limit.Count requests per limit.Per for each connection,
// refilling continuously.
func RateLimit(limit config.Limit) pipeline.Step {
	var (
		mu       sync.Mutex
		limiters = make(map[uuid.UUID]*limiterEntry)
		every    = rate.Every(limit.Per / time.Duration(limit.Count))
	)

	sweep := func(now time.Time) {
		for id, entry := range limiters {
			if now.Sub(entry.lastSeen) > 2*limit.Per {
				delete(limiters, id)
			}
		}
	}

	return pipeline.Transform(func(req pipeline.Request) (pipeline.Request, error) {
		now := time.Now()
		mu.Lock()
		if len(limiters) >= limiterSweepSize {
			sweep(now)
		}
		entry, ok := limiters[req.ConnID]
		if !ok {
			entry = &limiterEntry{limiter: rate.NewLimiter(every, limit.Count)}
			limiters[req.ConnID] = entry
		}
		entry.lastSeen = now
		allowed := entry.limiter.AllowN(now, 1)
		mu.Unlock()

		if !allowed {
			req.Logger.Debug("Rate limit exceeded", slog.String("limit", limit.String()))
			return req, fault.Validation("rate limit for request '%s' exceeded", req.Type)
		}
		return req, nil
	})
}
