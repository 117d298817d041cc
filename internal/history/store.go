package history

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/crossfix/internal/errors"
	"github.com/Iron-Ham/crossfix/internal/review"
)

// File names inside a run directory.
const (
	RecordsFile         = "history.jsonl"
	SummaryFile         = "summary.yaml"
	SummaryMarkdownFile = "summary.md"
)

var unsafeNameRegex = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Persist writes the history into dir: the records as JSON lines, a YAML and
// a Markdown summary, and the consensus and raw reviewer output of every
// attached review. Files are created exclusively, so a run directory that
// already holds a history is never rewritten.
func (r *Recorder) Persist(fs afero.Fs, dir string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.persisted {
		return errors.ErrHistoryExists
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create run directory")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range r.records {
		if err := enc.Encode(rec); err != nil {
			return errors.Wrap(err, "failed to encode record")
		}
	}
	if err := createExclusive(fs, filepath.Join(dir, RecordsFile), buf.Bytes()); err != nil {
		return err
	}
	r.persisted = true

	summary := r.summaryLocked()
	data, err := yaml.Marshal(summary)
	if err != nil {
		return errors.Wrap(err, "failed to encode summary")
	}
	if err := createExclusive(fs, filepath.Join(dir, SummaryFile), data); err != nil {
		return err
	}
	if err := createExclusive(fs, filepath.Join(dir, SummaryMarkdownFile), []byte(SummaryMarkdown(summary, r.records))); err != nil {
		return err
	}

	iterations := make([]int, 0, len(r.reviews))
	for it := range r.reviews {
		iterations = append(iterations, it)
	}
	sort.Ints(iterations)
	for _, it := range iterations {
		if err := persistReview(fs, dir, it, r.reviews[it]); err != nil {
			return err
		}
	}

	r.logger.Info("history persisted", "dir", dir, "records", len(r.records), "reviews", len(iterations))
	return nil
}

func persistReview(fs afero.Fs, dir string, iteration int, res *review.Result) error {
	prefix := filepath.Join(dir, fmt.Sprintf("iteration_%d_", iteration))

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode consensus")
	}
	if err := createExclusive(fs, prefix+"consensus.json", data); err != nil {
		return err
	}
	if err := createExclusive(fs, prefix+"consensus.md", []byte(ConsensusMarkdown(res))); err != nil {
		return err
	}

	names := make([]string, 0, len(res.Reports))
	for name := range res.Reports {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rep := res.Reports[name]
		if rep == nil || rep.Raw == "" {
			continue
		}
		file := prefix + unsafeNameRegex.ReplaceAllString(name, "_") + "_raw.txt"
		if err := createExclusive(fs, file, []byte(rep.Raw)); err != nil {
			return err
		}
	}
	return nil
}

// createExclusive writes data to a new file, failing if it already exists.
func createExclusive(fs afero.Fs, path string, data []byte) error {
	f, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return errors.Wrap(errors.ErrHistoryExists, path)
		}
		return errors.Wrapf(err, "failed to create %s", path)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = fs.Remove(path)
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return f.Close()
}

// Run is a persisted history read back from disk.
type Run struct {
	Dir     string
	Records []IterationRecord
	Summary Summary
}

// Load reads the history persisted in dir. The summary is recomputed from
// the records when summary.yaml is missing.
func Load(fs afero.Fs, dir string) (*Run, error) {
	f, err := fs.Open(filepath.Join(dir, RecordsFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.NewNotFoundError("history", dir).WithCause(err)
		}
		return nil, errors.Wrap(err, "failed to open history")
	}
	defer func() { _ = f.Close() }()

	run := &Run{Dir: dir}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		var rec IterationRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, errors.Wrapf(err, "%s line %d", RecordsFile, line)
		}
		run.Records = append(run.Records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read history")
	}

	data, err := afero.ReadFile(fs, filepath.Join(dir, SummaryFile))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &run.Summary); err != nil {
			return nil, errors.Wrap(err, "failed to parse summary")
		}
	case errors.Is(err, os.ErrNotExist):
		run.Summary = Summary{
			Implementation: summarize(run.Records, LoopImplementation),
			Improvement:    summarize(run.Records, LoopImprovement),
		}
	default:
		return nil, errors.Wrap(err, "failed to read summary")
	}
	return run, nil
}
