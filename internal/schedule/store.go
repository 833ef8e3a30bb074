package schedule

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	logx "vigil/pkg/logx"
)

// Store is the file-backed schedule. Mutations are read-modify-write
// under one mutex and rewrite the whole file atomically (temp file,
// fsync, rename). The scheduler only ever reads.
type Store struct {
	path string
	log  logx.Logger

	mu sync.Mutex
}

func NewStore(path string, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{path: path, log: log}
}

func (s *Store) Path() string { return s.path }

// Load reads and parses the schedule file. A missing file is an empty
// schedule, not an error.
func (s *Store) Load() ([]Job, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read schedule: %w", err)
	}
	jobs, skipped := Parse(data)
	for _, n := range skipped {
		s.log.Debug("schedule line skipped", logx.String("path", s.path), logx.Int("line", n))
	}
	return jobs, nil
}

// Save validates and persists the full job list, replacing the file.
func (s *Store) Save(jobs []Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(jobs)
}

func (s *Store) save(jobs []Job) error {
	normalized := make([]Job, 0, len(jobs))
	seen := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		j = j.Normalize()
		if err := j.Validate(); err != nil {
			return err
		}
		if _, dup := seen[j.Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicate, j.Name)
		}
		seen[j.Name] = struct{}{}
		normalized = append(normalized, j)
	}
	if err := writeFileAtomic(s.path, Format(normalized)); err != nil {
		return fmt.Errorf("write schedule: %w", err)
	}
	return nil
}

// Add appends a new job. The store is untouched when the name exists.
func (s *Store) Add(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.Load()
	if err != nil {
		return err
	}
	for _, existing := range jobs {
		if existing.Name == j.Name {
			return fmt.Errorf("%w: %s", ErrDuplicate, j.Name)
		}
	}
	return s.save(append(jobs, j))
}

// Get returns the named job.
func (s *Store) Get(name string) (Job, error) {
	jobs, err := s.Load()
	if err != nil {
		return Job{}, err
	}
	for _, j := range jobs {
		if j.Name == name {
			return j, nil
		}
	}
	return Job{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Remove deletes the named job.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.Load()
	if err != nil {
		return err
	}
	kept := jobs[:0]
	found := false
	for _, j := range jobs {
		if j.Name == name {
			found = true
			continue
		}
		kept = append(kept, j)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s.save(kept)
}

// Update replaces the named job in place, preserving line order.
func (s *Store) Update(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.Load()
	if err != nil {
		return err
	}
	for i := range jobs {
		if jobs[i].Name == j.Name {
			jobs[i] = j
			return s.save(jobs)
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, j.Name)
}

// SetDisabled flips the disabled flag of the named job.
func (s *Store) SetDisabled(name string, disabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.Load()
	if err != nil {
		return err
	}
	for i := range jobs {
		if jobs[i].Name == name {
			jobs[i].Disabled = disabled
			return s.save(jobs)
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, name)
}

// writeFileAtomic writes via a temp file in the same directory so the
// rename is atomic on the same volume.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
