package split

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/apperr"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/naming"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/records"
)

// Renamed is one record whose suffix was rewritten by a legacy migration.
type Renamed struct {
	ID   string `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
	Err  string `json:"error,omitempty"`
}

// MigrateLegacy rewrites legacy "-1" suffixes in every family of a batch. Each record is
// updated under its own version guard; a family whose records changed concurrently is
// reported and left for a later run.
func (c *Coordinator) MigrateLegacy(ctx context.Context, batch string) ([]Renamed, error) {
	const op = "migrate_legacy"
	all, err := c.store.ListChecks(ctx, records.Filter{BatchNumber: batch})
	if err != nil {
		return nil, apperr.Internal(op, "list checks", err)
	}
	seen := map[string]bool{}
	var out []Renamed
	for _, chk := range all {
		if seen[chk.CheckNumber] {
			continue
		}
		seen[chk.CheckNumber] = true
		renamed, err := c.migrateFamily(ctx, batch, chk.CheckNumber)
		if err != nil {
			return out, apperr.Internal(op, "migrate family "+batch+"-"+chk.CheckNumber, err)
		}
		out = append(out, renamed...)
	}
	if failed := toFailures(out); len(failed) > 0 {
		return out, apperr.Partial(op, "some records were not renamed", failed)
	}
	return out, nil
}

func (c *Coordinator) migrateFamily(ctx context.Context, batch, check string) ([]Renamed, error) {
	members, _, err := records.Family(ctx, c.store, batch, check)
	if err != nil {
		return nil, err
	}
	names := make([]naming.Name, len(members))
	for i, m := range members {
		names[i] = m.Name()
	}
	migrated := naming.MigrateLegacy(names)

	var out []Renamed
	for i, m := range members {
		if migrated[i].Suffix == m.Suffix {
			continue
		}
		r := Renamed{ID: m.ID, From: m.FileName(), To: migrated[i].FileName()}
		next := m.Clone()
		next.Suffix = migrated[i].Suffix
		if err := c.store.UpdateCheck(ctx, next); err != nil {
			r.Err = err.Error()
			log.Warn().Err(err).Str("check_id", m.ID).Str("to", r.To).Msg("legacy rename skipped")
		} else {
			log.Info().Str("check_id", m.ID).Str("from", r.From).Str("to", r.To).Msg("legacy suffix migrated")
		}
		out = append(out, r)
	}
	return out, nil
}

func toFailures(rs []Renamed) []apperr.Failure {
	var out []apperr.Failure
	for _, r := range rs {
		if r.Err != "" {
			out = append(out, apperr.Failure{Item: r.ID, Error: r.Err})
		}
	}
	return out
}
