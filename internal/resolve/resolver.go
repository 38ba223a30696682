package resolve

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/stancelab/hansard-cli/internal/speech"
)

// Resolver resolves member names against the corpus, remembering past
// resolutions in a JSON cache file so re-runs skip the lookup.
type Resolver struct {
	store     speech.Store
	cachePath string
	cache     map[string]int
}

// NewResolver loads the resolution cache at cachePath, creating the parent
// directory if needed.
func NewResolver(store speech.Store, cachePath string) (*Resolver, error) {
	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		return nil, eris.Wrap(err, "resolve: create cache dir")
	}

	r := &Resolver{store: store, cachePath: cachePath, cache: map[string]int{}}

	data, err := os.ReadFile(cachePath)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "resolve: read cache")
	}
	if err := json.Unmarshal(data, &r.cache); err != nil {
		return nil, eris.Wrapf(err, "resolve: parse cache %s", cachePath)
	}
	return r, nil
}

func (r *Resolver) saveCache() error {
	data, err := json.MarshalIndent(r.cache, "", "  ")
	if err != nil {
		return eris.Wrap(err, "resolve: marshal cache")
	}
	if err := os.WriteFile(r.cachePath, data, 0o644); err != nil {
		return eris.Wrap(err, "resolve: write cache")
	}
	return nil
}

// Resolve maps a single name to a member id. Cache hits short-circuit the
// corpus lookup; new resolutions are persisted immediately.
func (r *Resolver) Resolve(ctx context.Context, name string) (Resolution, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Resolution{Status: NotFound}, nil
	}

	if id, ok := r.cache[name]; ok {
		zap.L().Debug("member name resolved from cache",
			zap.String("name", name), zap.Int("member_id", id))
		return Resolution{Status: Resolved, MemberID: id, MatchName: name, Score: 1.0}, nil
	}

	candidates, err := r.store.SearchMembers(ctx, name)
	if err != nil {
		return Resolution{}, eris.Wrapf(err, "resolve: search %q", name)
	}

	res := Match(name, candidates)
	if res.Status == Resolved {
		r.cache[name] = res.MemberID
		if err := r.saveCache(); err != nil {
			return Resolution{}, err
		}
	}
	return res, nil
}

// ResolveAll maps each name to a member id. Names that cannot be resolved
// unambiguously are logged and omitted from the result.
func (r *Resolver) ResolveAll(ctx context.Context, names []string) (map[string]int, error) {
	resolved := make(map[string]int)
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		res, err := r.Resolve(ctx, name)
		if err != nil {
			return nil, err
		}

		switch res.Status {
		case Resolved:
			resolved[name] = res.MemberID
			zap.L().Info("member name resolved",
				zap.String("name", name),
				zap.String("match", res.MatchName),
				zap.Int("member_id", res.MemberID),
				zap.Float64("score", res.Score))
		case Ambiguous:
			top := make([]string, 0, 3)
			for i, c := range res.Candidates {
				if i == 3 {
					break
				}
				top = append(top, c.Person.Name)
			}
			zap.L().Warn("member name ambiguous, skipping",
				zap.String("name", name),
				zap.Strings("top_candidates", top))
		default:
			zap.L().Warn("member name not found, skipping", zap.String("name", name))
		}
	}
	return resolved, nil
}
