// Package repair scans the stored graph for resolution errors left by
// ingestion and corrects them offline: over-merged aliases and
// participations that postdate a person's death.
package repair

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"
	"golang.org/x/time/rate"

	"github.com/agenthands/annals/internal/config"
	"github.com/agenthands/annals/internal/core/identity"
	"github.com/agenthands/annals/internal/core/model"
	"github.com/agenthands/annals/internal/core/repo"
	"github.com/agenthands/annals/internal/logger"
	"github.com/agenthands/annals/internal/metrics"
	"github.com/agenthands/annals/internal/store"
)

type Phase string

const (
	PhaseAliases   Phase = "aliases"
	PhaseRelations Phase = "relations"
	PhaseVerify    Phase = "verify"
	PhaseAll       Phase = "all"
)

func ParsePhase(s string) (Phase, error) {
	switch p := Phase(strings.ToLower(strings.TrimSpace(s))); p {
	case PhaseAliases, PhaseRelations, PhaseVerify, PhaseAll:
		return p, nil
	case "":
		return PhaseAll, nil
	default:
		return "", fmt.Errorf("unknown repair phase %q (want aliases, relations, verify or all)", s)
	}
}

func (p Phase) includes(q Phase) bool { return p == PhaseAll || p == q }

type Options struct {
	Phase Phase
	// Full ignores the configured exclusions and the progress history.
	Full       bool
	MinAliases int
}

const (
	saveEvery          = 10
	heavyAliasCount    = 8
	heavyAliasLimit    = 20
	postDeathThreshold = 3
	postDeathLimit     = 15
)

type AliasCount struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases"`
}

type PostDeathCount struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	DeathYear int    `json:"death_year"`
	Events    int    `json:"events"`
}

type VerifyReport struct {
	HeavyAliases []AliasCount     `json:"heavy_aliases"`
	PostDeath    []PostDeathCount `json:"post_death"`
}

type Report struct {
	PersonsChecked      int           `json:"persons_checked"`
	AliasesFixed        int           `json:"aliases_fixed"`
	AliasesUnchanged    int           `json:"aliases_unchanged"`
	OracleFailures      int           `json:"oracle_failures"`
	CorrectionsApplied  int           `json:"corrections_applied"`
	PostDeathRemoved    int           `json:"post_death_removed"`
	ParticipationsAdded int           `json:"participations_added"`
	SelfLoopsRemoved    int           `json:"self_loops_removed"`
	ParallelRemoved     int           `json:"parallel_removed"`
	Verify              *VerifyReport `json:"verify,omitempty"`
}

type Repairer struct {
	Store   store.Store
	Repo    *repo.Repository
	Oracle  AliasOracle
	Curated *CuratedOracle
	Config  config.RepairConfig
	Limiter *rate.Limiter

	// Matchable rejects names too short or too generic to link on.
	Matchable func(name string) bool

	lock *flock.Flock
}

func NewRepairer(
	s store.Store,
	r *repo.Repository,
	oracle AliasOracle,
	curated *CuratedOracle,
	cfg config.RepairConfig,
	idCfg config.IdentityConfig,
) *Repairer {
	limit := rate.Inf
	if d := cfg.CallInterval(); d > 0 {
		limit = rate.Every(d)
	}
	names := identity.NewResolver(r, identity.NewNameIndex(), idCfg)
	return &Repairer{
		Store:     s,
		Repo:      r,
		Oracle:    oracle,
		Curated:   curated,
		Config:    cfg,
		Limiter:   rate.NewLimiter(limit, 1),
		Matchable: names.Matchable,
		lock:      flock.New(filepath.Clean(cfg.ProgressFile) + ".lock"),
	}
}

// Run executes the selected phases in order: aliases, relations, verify.
func (r *Repairer) Run(ctx context.Context, opts Options) (Report, error) {
	var rep Report
	if opts.Phase == "" {
		opts.Phase = PhaseAll
	}
	if opts.MinAliases < 1 {
		opts.MinAliases = r.Config.MinAliases
	}

	if err := os.MkdirAll(filepath.Dir(r.lock.Path()), 0o750); err != nil {
		return rep, fmt.Errorf("%w: %v", model.ErrCheckpointIO, err)
	}
	ok, err := r.lock.TryLock()
	if err != nil {
		return rep, fmt.Errorf("%w: %v", model.ErrCheckpointIO, err)
	}
	if !ok {
		return rep, errors.New("another repair run holds the progress lock")
	}
	defer func() {
		if err := r.lock.Unlock(); err != nil {
			logger.Warn("release repair lock", "err", err)
		}
	}()

	if opts.Phase.includes(PhaseAliases) {
		if err := r.RepairAliases(ctx, opts, &rep); err != nil {
			return rep, err
		}
	}
	if opts.Phase.includes(PhaseRelations) {
		if err := r.RepairRelations(ctx, &rep); err != nil {
			return rep, err
		}
	}
	if opts.Phase.includes(PhaseVerify) {
		v, err := r.Verify(ctx)
		if err != nil {
			return rep, err
		}
		rep.Verify = v
	}
	return rep, nil
}

// RepairAliases asks the oracle about every person with at least
// MinAliases aliases and keeps only the aliases it confirms.
func (r *Repairer) RepairAliases(ctx context.Context, opts Options, rep *Report) error {
	progress, err := LoadProgress(r.Config.ProgressFile)
	if err != nil {
		return err
	}

	excluded := make(map[string]bool)
	if !opts.Full {
		for _, id := range r.Config.ExcludedIDs {
			excluded[id] = true
		}
		for _, id := range progress.AliasesDone {
			excluded[id] = true
		}
	} else {
		progress.AliasesDone = []string{}
	}

	persons, err := r.Repo.PersonsWithAliases(ctx, opts.MinAliases)
	if err != nil {
		return fmt.Errorf("load persons: %w", err)
	}
	sort.SliceStable(persons, func(i, j int) bool { return len(persons[i].Aliases) > len(persons[j].Aliases) })

	var pending []model.Person
	for _, p := range persons {
		if !excluded[p.UID] {
			pending = append(pending, p)
		}
	}
	logger.Info("alias repair starting", "candidates", len(persons), "pending", len(pending), "full", opts.Full)

	for i, p := range pending {
		if err := r.Limiter.Wait(ctx); err != nil {
			break
		}
		rep.PersonsChecked++
		if done := r.repairPerson(ctx, p, progress, rep); done {
			progress.AliasesDone = append(progress.AliasesDone, p.UID)
		}
		if (i+1)%saveEvery == 0 {
			if err := SaveProgress(r.Config.ProgressFile, progress); err != nil {
				return err
			}
			logger.Info("repair progress saved", "done", i+1, "of", len(pending))
		}
	}

	if err := SaveProgress(r.Config.ProgressFile, progress); err != nil {
		return err
	}
	logger.Info("alias repair finished", "fixed", rep.AliasesFixed, "unchanged", rep.AliasesUnchanged,
		"oracle_failures", rep.OracleFailures, "corrections", rep.CorrectionsApplied)
	return ctx.Err()
}

// repairPerson reports whether p should be recorded as done.
func (r *Repairer) repairPerson(ctx context.Context, p model.Person, progress *Progress, rep *Report) bool {
	verdict, err := r.Oracle.Classify(ctx, p)
	if errors.Is(err, ErrNoVerdict) {
		logger.Debug("no alias verdict", "id", p.UID, "name", p.Name)
		return false
	}
	if err != nil {
		rep.OracleFailures++
		logger.Warn("alias oracle failed", "id", p.UID, "name", p.Name, "err", err)
		return ctx.Err() == nil
	}

	updated := p
	corrected := r.Curated.Correct(&updated)
	updated.Aliases = keepConfirmed(p.Aliases, verdict.Correct, updated.Name)
	aliasesChanged := !equalStrings(updated.Aliases, p.Aliases)

	if !corrected && !aliasesChanged {
		rep.AliasesUnchanged++
		return true
	}
	if err := r.Repo.SavePerson(ctx, updated); err != nil {
		metrics.WriteFailures.Inc()
		logger.Error("alias repair write failed", "id", p.UID, "err", err)
		return false
	}

	if corrected {
		rep.CorrectionsApplied++
		metrics.RepairActions.WithLabelValues("correction").Inc()
	}
	if aliasesChanged {
		rep.AliasesFixed++
		metrics.RepairActions.WithLabelValues("alias_fix").Inc()
		removed := difference(p.Aliases, updated.Aliases)
		progress.AliasFixes[p.UID] = AliasFix{
			Name:     updated.Name,
			Original: p.Aliases,
			Kept:     updated.Aliases,
			Removed:  removed,
		}
		logger.Info("aliases repaired", "id", p.UID, "name", updated.Name, "kept", len(updated.Aliases), "removed", removed)
	}
	return true
}

// keepConfirmed returns current ∩ correct in current order, without the
// canonical name.
func keepConfirmed(current, correct []string, canonical string) []string {
	ok := make(map[string]bool, len(correct))
	for _, c := range correct {
		ok[strings.TrimSpace(c)] = true
	}
	kept := []string{}
	for _, a := range model.UniqueNames(current) {
		if ok[a] && a != canonical {
			kept = append(kept, a)
		}
	}
	return kept
}

func difference(a, b []string) []string {
	in := make(map[string]bool, len(b))
	for _, s := range b {
		in[s] = true
	}
	var out []string
	for _, s := range a {
		if !in[s] {
			out = append(out, s)
		}
	}
	return out
}

// isMemorial reports whether the event is commemorative and may therefore
// involve people who are already dead.
func (r *Repairer) isMemorial(e model.Event) bool {
	text := strings.ToLower(e.Description + " " + e.Name)
	for _, kw := range r.Config.MemorialKeywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// allowed applies the temporal filter to a person/event pair.
func (r *Repairer) allowed(deathYear *int, e model.Event) bool {
	if deathYear == nil || e.Year == nil || *e.Year <= *deathYear {
		return true
	}
	return r.isMemorial(e)
}

// RepairRelations removes post-death participations, re-links events from
// their participant lists and descriptions, then deletes self loops and
// collapses parallel edges.
func (r *Repairer) RepairRelations(ctx context.Context, rep *Report) error {
	persons, err := r.Repo.AllPersons(ctx)
	if err != nil {
		return fmt.Errorf("load persons: %w", err)
	}
	events, err := r.Repo.AllEvents(ctx)
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	eventByID := make(map[string]model.Event, len(events))
	for _, e := range events {
		eventByID[e.UID] = e
	}
	deathYear := make(map[string]*int)
	for _, p := range persons {
		if p.DeathYear != nil {
			deathYear[p.UID] = p.DeathYear
		}
	}

	for _, p := range persons {
		if p.DeathYear == nil {
			continue
		}
		edges, err := r.Store.QueryEdges(ctx, store.EdgeFilter{
			Source: p.UID, SourceLabel: store.LabelPerson, Type: model.ParticipatedIn, TargetLabel: store.LabelEvent,
		})
		if err != nil {
			return fmt.Errorf("load participations of %s: %w", p.UID, err)
		}
		var drop []store.Edge
		for _, e := range edges {
			ev, ok := eventByID[e.Target]
			if ok && !r.allowed(p.DeathYear, ev) {
				drop = append(drop, e)
			}
		}
		if len(drop) == 0 {
			continue
		}
		n, err := r.Store.DeleteEdges(ctx, drop)
		if err != nil {
			return fmt.Errorf("delete post-death participations of %s: %w", p.UID, err)
		}
		rep.PostDeathRemoved += n
		metrics.RepairActions.WithLabelValues("post_death_removed").Add(float64(n))
		logger.Info("post-death participations removed", "id", p.UID, "name", p.Name, "count", n)
	}

	names, order := r.nameMap(persons)
	logger.Info("re-linking participations", "events", len(events), "names", len(order))

	for _, ev := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		link := make(map[string]bool)
		for _, n := range ev.Participants {
			if id, ok := names[strings.TrimSpace(n)]; ok {
				link[id] = true
			}
		}
		text := ev.Description + " " + ev.Name
		for _, n := range order {
			if strings.Contains(text, n) {
				link[names[n]] = true
			}
		}

		ids := make([]string, 0, len(link))
		for id := range link {
			if r.allowed(deathYear[id], ev) {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)
		for _, id := range ids {
			created, err := r.Store.UpsertEdge(ctx, store.Edge{
				Source: id, SourceLabel: store.LabelPerson,
				Target: ev.UID, TargetLabel: store.LabelEvent,
				Type: model.ParticipatedIn,
			})
			if err != nil {
				metrics.WriteFailures.Inc()
				logger.Error("participation write failed", "person", id, "event", ev.UID, "err", err)
				continue
			}
			if created {
				rep.ParticipationsAdded++
				metrics.RepairActions.WithLabelValues("participation_added").Inc()
			}
		}
	}

	loops, err := r.Store.DeleteSelfLoops(ctx)
	if err != nil {
		return fmt.Errorf("delete self loops: %w", err)
	}
	rep.SelfLoopsRemoved = loops
	parallel, err := r.Store.CollapseParallelEdges(ctx)
	if err != nil {
		return fmt.Errorf("collapse parallel edges: %w", err)
	}
	rep.ParallelRemoved = parallel

	progress, err := LoadProgress(r.Config.ProgressFile)
	if err != nil {
		return err
	}
	progress.RelationsDone = true
	if err := SaveProgress(r.Config.ProgressFile, progress); err != nil {
		return err
	}

	logger.Info("relation repair finished", "post_death_removed", rep.PostDeathRemoved,
		"added", rep.ParticipationsAdded, "self_loops", loops, "parallel", parallel)
	return nil
}

// nameMap maps every linkable name to a person id. Canonical names are
// entered before any alias so they win on conflict. order lists the keys
// sorted for deterministic scans.
func (r *Repairer) nameMap(persons []model.Person) (map[string]string, []string) {
	names := make(map[string]string)
	put := func(n, id string) {
		n = strings.TrimSpace(n)
		if _, taken := names[n]; taken || !r.Matchable(n) {
			return
		}
		names[n] = id
	}
	for _, p := range persons {
		put(p.Name, p.UID)
	}
	for _, p := range persons {
		for _, a := range p.Aliases {
			put(a, p.UID)
		}
	}
	order := make([]string, 0, len(names))
	for n := range names {
		order = append(order, n)
	}
	sort.Strings(order)
	return names, order
}

// Verify reports persons that still look over-merged and persons with
// many post-death participations.
func (r *Repairer) Verify(ctx context.Context) (*VerifyReport, error) {
	v := &VerifyReport{HeavyAliases: []AliasCount{}, PostDeath: []PostDeathCount{}}

	heavy, err := r.Repo.PersonsWithAliases(ctx, heavyAliasCount)
	if err != nil {
		return nil, fmt.Errorf("load heavy persons: %w", err)
	}
	sort.SliceStable(heavy, func(i, j int) bool { return len(heavy[i].Aliases) > len(heavy[j].Aliases) })
	for i, p := range heavy {
		if i == heavyAliasLimit {
			break
		}
		v.HeavyAliases = append(v.HeavyAliases, AliasCount{ID: p.UID, Name: p.Name, Aliases: p.Aliases})
	}

	dead, err := r.Repo.PersonsWithDeathYear(ctx)
	if err != nil {
		return nil, fmt.Errorf("load persons with death year: %w", err)
	}
	events, err := r.Repo.AllEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	year := make(map[string]*int, len(events))
	for _, e := range events {
		year[e.UID] = e.Year
	}
	for _, p := range dead {
		edges, err := r.Store.QueryEdges(ctx, store.EdgeFilter{Source: p.UID, Type: model.ParticipatedIn})
		if err != nil {
			return nil, fmt.Errorf("load participations of %s: %w", p.UID, err)
		}
		count := 0
		for _, e := range edges {
			if y := year[e.Target]; y != nil && *y > *p.DeathYear {
				count++
			}
		}
		if count > postDeathThreshold {
			v.PostDeath = append(v.PostDeath, PostDeathCount{ID: p.UID, Name: p.Name, DeathYear: *p.DeathYear, Events: count})
		}
	}
	sort.SliceStable(v.PostDeath, func(i, j int) bool { return v.PostDeath[i].Events > v.PostDeath[j].Events })
	if len(v.PostDeath) > postDeathLimit {
		v.PostDeath = v.PostDeath[:postDeathLimit]
	}

	for _, h := range v.HeavyAliases {
		logger.Info("verify: many aliases", "name", h.Name, "aliases", len(h.Aliases))
	}
	for _, d := range v.PostDeath {
		logger.Info("verify: post-death participations", "name", d.Name, "death_year", d.DeathYear, "events", d.Events)
	}
	return v, nil
}
