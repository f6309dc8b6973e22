package installer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/quay/zlog"
	"go.opentelemetry.io/otel/codes"

	rattler "github.com/mamba-org/rattler-go"
	rlog "github.com/mamba-org/rattler-go/toolkit/log"
	"github.com/mamba-org/rattler-go/transaction"
)

// PreProcess counts every scheduled operation by kind and runs the
// pre-unlink scripts of packages scheduled for removal or change. A script
// failure is logged and the transaction continues.
func (d *Driver) PreProcess(ctx context.Context, ops []transaction.Op, prefix string) {
	ctx = rlog.With(ctx, "prefix", prefix, "transaction_id", d.txID)
	for _, op := range ops {
		opCounter.WithLabelValues(op.Kind.String()).Inc()
	}

	if d.scripts == nil {
		return
	}
	for _, op := range ops {
		if op.Kind != transaction.OpRemove && op.Kind != transaction.OpChange {
			continue
		}
		if op.Old == nil {
			continue
		}
		if err := d.scripts.RunPreUnlink(ctx, prefix, op.Old); err != nil {
			zlog.Warn(ctx).Str("package", op.Old.Identity()).Err(err).Msg("installer: pre-unlink script failed")
		}
	}
}

// PostProcess reloads every installed package's PrefixRecord from
// <prefix>/conda-meta, reconciles the clobber registry so exactly one
// package owns each contested path, prunes directories no longer
// referenced by any installed record, and runs post-link scripts.
func (d *Driver) PostProcess(ctx context.Context, prefix string) (err error) {
	ctx = rlog.With(ctx, "prefix", prefix, "transaction_id", d.txID)

	ctx, span := tracer.Start(ctx, "Driver.PostProcess")
	defer span.End()
	defer func() {
		span.RecordError(err)
		if err == nil {
			span.SetStatus(codes.Ok, "")
		} else {
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	records, err := loadCondaMeta(prefix)
	if err != nil {
		return &rattler.DomainError{Inner: err, Kind: rattler.ErrTransient, Disc: rattler.DiscPostProcessFailed, Path: prefix, Reason: "failed to reload installed packages", Op: "installer.Driver.PostProcess"}
	}

	order := topoSortRecords(records)

	if err := d.reconcileClobbers(prefix, records, order); err != nil {
		return &rattler.DomainError{Inner: err, Kind: rattler.ErrTransient, Disc: rattler.DiscPostProcessFailed, Path: prefix, Reason: "failed to reconcile clobbered paths", Op: "installer.Driver.PostProcess"}
	}

	keep := referencedDirectories(records)
	if err := pruneEmptyDirectories(prefix, candidateParentDirs(records), keep); err != nil {
		zlog.Warn(ctx).Err(err).Msg("installer: directory pruning after install failed")
	}

	if d.scripts != nil {
		for i := range records {
			if err := d.scripts.RunPostLink(ctx, prefix, &records[i]); err != nil {
				zlog.Warn(ctx).Str("package", records[i].Identity()).Err(err).Msg("installer: post-link script failed")
			}
		}
	}
	return nil
}

func loadCondaMeta(prefix string) ([]rattler.PrefixRecord, error) {
	dir := filepath.Join(prefix, "conda-meta")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var records []rattler.PrefixRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var rec rattler.PrefixRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// topoSortRecords orders records so each record's (known) dependencies
// precede it, using the same deterministic DFS-postorder, cycle-tolerant
// idiom as transaction.topoSort: lexically sorted names and edges, with an
// onStack guard that simply skips re-entering a node already mid-traversal.
func topoSortRecords(records []rattler.PrefixRecord) []rattler.PrefixRecord {
	byName := make(map[string]*rattler.PrefixRecord, len(records))
	names := make([]string, 0, len(records))
	for i := range records {
		byName[records[i].Name] = &records[i]
		names = append(names, records[i].Name)
	}
	sort.Strings(names)

	order := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	onStack := make(map[string]bool, len(names))
	var visit func(name string)
	visit = func(name string) {
		if seen[name] || onStack[name] {
			return
		}
		onStack[name] = true
		rec := byName[name]
		deps := append([]string(nil), rec.Depends...)
		sort.Strings(deps)
		for _, d := range deps {
			depName := d
			if i := strings.IndexByte(d, ' '); i != -1 {
				depName = d[:i]
			}
			if _, ok := byName[depName]; ok {
				visit(depName)
			}
		}
		onStack[name] = false
		seen[name] = true
		order = append(order, name)
	}
	for _, n := range names {
		visit(n)
	}

	out := make([]rattler.PrefixRecord, len(order))
	for i, n := range order {
		out[i] = *byName[n]
	}
	return out
}

// reconcileClobbers chooses, for every path shared by more than one record,
// a single deterministic winner (the one earliest in topological order —
// topologically earlier packages are "more fundamental" and keep the
// canonical name) and rewrites every loser's on-disk file to a ".c<n>"
// mangled slot if it isn't there already. order is records in the priority
// used to break ties, most-preferred first.
func (d *Driver) reconcileClobbers(prefix string, records []rattler.PrefixRecord, order []rattler.PrefixRecord) error {
	priority := make(map[string]int, len(order))
	for i, r := range order {
		priority[r.Identity()] = i
	}

	type claimant struct {
		recIdx, pathIdx int
	}
	byCanonical := make(map[string][]claimant)
	for ri := range records {
		for pi, p := range records[ri].Paths {
			canonical := p.RelativePath
			if p.OriginalPath != "" {
				canonical = p.OriginalPath
			}
			byCanonical[canonical] = append(byCanonical[canonical], claimant{ri, pi})
		}
	}

	for canonical, claimants := range byCanonical {
		if len(claimants) < 2 {
			continue
		}
		sort.Slice(claimants, func(i, j int) bool {
			return priority[records[claimants[i].recIdx].Identity()] < priority[records[claimants[j].recIdx].Identity()]
		})

		// finalPaths maps each claimant, in priority order, to the
		// relative path it should end up at: the winner gets canonical,
		// everyone else gets a ".c<n>" slot.
		finalPaths := make([]string, len(claimants))
		finalPaths[0] = canonical
		for n := 1; n < len(claimants); n++ {
			finalPaths[n] = canonical + ".c" + strconv.Itoa(n)
		}

		// Renaming directly could have two claimants collide mid-swap (the
		// deterministic winner may not be whoever is currently sitting on
		// canonical). Stage every move that changes path through a unique
		// temporary name first, then move every staged file to its final
		// name, so no rename ever targets a path another claimant still
		// occupies.
		type staged struct {
			entry     *rattler.PrefixPathsEntry
			tmpPath   string
			finalPath string
		}
		var moves []staged
		for i, c := range claimants {
			entry := &records[c.recIdx].Paths[c.pathIdx]
			if entry.RelativePath == finalPaths[i] {
				continue
			}
			tmp := canonical + ".reconcile-tmp-" + strconv.Itoa(i)
			if err := os.Rename(filepath.Join(prefix, entry.RelativePath), filepath.Join(prefix, tmp)); err != nil && !os.IsNotExist(err) {
				return err
			}
			moves = append(moves, staged{entry, tmp, finalPaths[i]})
		}
		for _, m := range moves {
			if err := os.Rename(filepath.Join(prefix, m.tmpPath), filepath.Join(prefix, m.finalPath)); err != nil && !os.IsNotExist(err) {
				return err
			}
			m.entry.RelativePath = m.finalPath
		}

		for i, c := range claimants {
			entry := &records[c.recIdx].Paths[c.pathIdx]
			if finalPaths[i] == canonical {
				entry.OriginalPath = ""
			} else {
				entry.OriginalPath = canonical
			}
		}
	}

	for ri := range records {
		if err := writeCondaMeta(prefix, &records[ri]); err != nil {
			return err
		}
	}
	return nil
}

// referencedDirectories returns the set of prefix-relative directories any
// installed record still references, either explicitly (a Directory
// PathsEntry) or implicitly (the parent of a file entry).
func referencedDirectories(records []rattler.PrefixRecord) map[string]bool {
	keep := make(map[string]bool)
	for _, rec := range records {
		for _, p := range rec.Paths {
			if p.PathType == rattler.LinkDirectory {
				keep[p.RelativePath] = true
				continue
			}
			keep[filepath.Dir(p.RelativePath)] = true
		}
	}
	return keep
}

// candidateParentDirs seeds the directory-pruning walk with the parent of
// every path any record still on disk occupies (the clobber reconciliation
// above may have just vacated some of them).
func candidateParentDirs(records []rattler.PrefixRecord) map[string]bool {
	dirs := make(map[string]bool)
	for _, rec := range records {
		for _, p := range rec.Paths {
			dirs[filepath.Dir(p.RelativePath)] = true
		}
	}
	return dirs
}
