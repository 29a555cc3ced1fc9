// Package registry resolves the integer-versioned model directories shared by
// training and batch prediction.
//
// A registry root holds one directory per version, named by a non-negative
// base-10 integer, each with three artifacts:
//
//	<root>/<n>/transformer.gob
//	<root>/<n>/model.gob
//	<root>/<n>/target_encoder.gob
//
// Any other entry under the root is ignored. Versions are only added, through
// Publish, which makes a version visible once all three artifacts are written.
package registry

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/askiada/go-sensor-pipeline/internal/artifact"
	"github.com/askiada/go-sensor-pipeline/internal/logging"
)

const (
	TransformerFileName   = "transformer.gob"
	ModelFileName         = "model.gob"
	TargetEncoderFileName = "target_encoder.gob"

	// NoVersion is returned by LatestVersion on an empty registry.
	NoVersion = -1

	stagingPrefix          = ".staging-"
	defaultPublishAttempts = 8
)

var (
	// ErrNoVersion is matched by every ResolutionError.
	ErrNoVersion = errors.New("no model version in registry")
	// ErrIncompleteVersion is returned by Publish when an artifact was not written.
	ErrIncompleteVersion = errors.New("version is missing an artifact")
	// ErrPublishConflict is returned by Publish when every attempted version number was taken.
	ErrPublishConflict = errors.New("unable to claim a version number")
)

// ResolutionError reports that no version could be resolved.
type ResolutionError struct {
	Root     string
	Artifact string
}

func (e *ResolutionError) Error() string {
	if e.Artifact == "" {
		return "no model version in registry " + e.Root
	}

	return "unable to resolve latest " + e.Artifact + ": no model version in registry " + e.Root
}

func (e *ResolutionError) Is(target error) bool {
	return target == ErrNoVersion //nolint:errorlint,goerr113
}

// Version is one registry entry.
type Version struct {
	Number int
	Dir    string
}

func (v Version) TransformerPath() string {
	return filepath.Join(v.Dir, TransformerFileName)
}

func (v Version) ModelPath() string {
	return filepath.Join(v.Dir, ModelFileName)
}

func (v Version) TargetEncoderPath() string {
	return filepath.Join(v.Dir, TargetEncoderFileName)
}

// Complete reports whether the three artifacts exist.
func (v Version) Complete() bool {
	return artifact.Exists(v.TransformerPath()) &&
		artifact.Exists(v.ModelPath()) &&
		artifact.Exists(v.TargetEncoderPath())
}

// Resolver answers which version is the latest and which number comes next.
// It keeps no state besides the root: every call scans the directory.
type Resolver struct {
	root            string
	logger          *slog.Logger
	publishAttempts int
}

type Option func(r *Resolver)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithPublishAttempts bounds how many version numbers Publish tries before giving up.
func WithPublishAttempts(attempts int) Option {
	return func(r *Resolver) {
		if attempts > 0 {
			r.publishAttempts = attempts
		}
	}
}

// New returns a resolver for root, creating the directory if needed.
func New(root string, opts ...Option) (*Resolver, error) {
	r := &Resolver{
		root:            root,
		publishAttempts: defaultPublishAttempts,
	}

	for _, opt := range opts {
		opt(r)
	}

	r.logger = logging.Or(r.logger)

	err := os.MkdirAll(root, 0o755)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to create registry %s", root)
	}

	return r, nil
}

func (r *Resolver) Root() string {
	return r.root
}

// parseVersion accepts ASCII digits only, so signs, spaces and hidden entries are rejected.
func parseVersion(name string) (int, bool) {
	if name == "" {
		return 0, false
	}

	for _, c := range name {
		if c < '0' || c > '9' {
			return 0, false
		}
	}

	n, err := strconv.Atoi(name)
	if err != nil {
		return 0, false
	}

	return n, true
}

// list returns the version directories sorted by number. When two names
// denote the same number ("7" and "007") the canonical one wins.
func (r *Resolver) list() ([]Version, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to list registry %s", r.root)
	}

	byNumber := make(map[int]Version)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		n, ok := parseVersion(entry.Name())
		if !ok {
			continue
		}

		if prev, ok := byNumber[n]; ok && filepath.Base(prev.Dir) == strconv.Itoa(n) {
			continue
		}

		byNumber[n] = Version{Number: n, Dir: filepath.Join(r.root, entry.Name())}
	}

	versions := make([]Version, 0, len(byNumber))
	for _, v := range byNumber {
		versions = append(versions, v)
	}

	slices.SortFunc(versions, func(a, b Version) int {
		return a.Number - b.Number
	})

	return versions, nil
}

// Versions returns the version numbers in ascending order.
func (r *Resolver) Versions() ([]int, error) {
	versions, err := r.list()
	if err != nil {
		return nil, err
	}

	numbers := make([]int, len(versions))
	for i, v := range versions {
		numbers[i] = v.Number
	}

	return numbers, nil
}

// LatestVersion returns the highest version number, or NoVersion and false.
func (r *Resolver) LatestVersion() (int, bool, error) {
	v, ok, err := r.latest()
	if err != nil || !ok {
		return NoVersion, false, err
	}

	return v.Number, true, nil
}

func (r *Resolver) latest() (Version, bool, error) {
	versions, err := r.list()
	if err != nil {
		return Version{}, false, err
	}

	if len(versions) == 0 {
		return Version{Number: NoVersion}, false, nil
	}

	return versions[len(versions)-1], true, nil
}

// Latest resolves the latest version. The three artifact paths of the
// returned Version belong to the same snapshot.
func (r *Resolver) Latest() (Version, error) {
	return r.resolve("")
}

func (r *Resolver) resolve(artifactName string) (Version, error) {
	v, ok, err := r.latest()
	if err != nil {
		return Version{}, err
	}

	if !ok {
		return Version{}, &ResolutionError{Root: r.root, Artifact: artifactName}
	}

	return v, nil
}

// Get returns version n.
func (r *Resolver) Get(n int) (Version, error) {
	versions, err := r.list()
	if err != nil {
		return Version{}, err
	}

	for _, v := range versions {
		if v.Number == n {
			return v, nil
		}
	}

	return Version{}, errors.Errorf("version %d not found in registry %s", n, r.root)
}

func (r *Resolver) LatestTransformerPath() (string, error) {
	v, err := r.resolve("transformer")
	if err != nil {
		return "", err
	}

	return v.TransformerPath(), nil
}

func (r *Resolver) LatestModelPath() (string, error) {
	v, err := r.resolve("model")
	if err != nil {
		return "", err
	}

	return v.ModelPath(), nil
}

func (r *Resolver) LatestTargetEncoderPath() (string, error) {
	v, err := r.resolve("target encoder")
	if err != nil {
		return "", err
	}

	return v.TargetEncoderPath(), nil
}

// NextVersion returns the latest version number plus one, 0 on an empty registry.
func (r *Resolver) NextVersion() (int, error) {
	latest, _, err := r.LatestVersion()
	if err != nil {
		return 0, err
	}

	return latest + 1, nil
}

func (r *Resolver) versionDir(n int) string {
	return filepath.Join(r.root, strconv.Itoa(n))
}

// freeSlot returns the first number from n whose path is not held by a
// non-directory entry. Such entries are not versions but still block the name.
func (r *Resolver) freeSlot(n int) (int, error) {
	for {
		info, err := os.Lstat(r.versionDir(n))
		if errors.Is(err, fs.ErrNotExist) {
			return n, nil
		}

		if err != nil {
			return 0, errors.Wrapf(err, "unable to inspect version %d", n)
		}

		if info.IsDir() {
			return n, nil
		}

		r.logger.Warn("version slot held by a file, skipping", slog.Int("version", n))
		n++
	}
}

// nextSlot is NextVersion moved past slots held by stray files.
func (r *Resolver) nextSlot() (int, error) {
	n, err := r.NextVersion()
	if err != nil {
		return 0, err
	}

	return r.freeSlot(n)
}

// next creates the directory of the next version.
func (r *Resolver) next() (Version, error) {
	n, err := r.nextSlot()
	if err != nil {
		return Version{}, err
	}

	v := Version{Number: n, Dir: r.versionDir(n)}

	err = os.MkdirAll(v.Dir, 0o755)
	if err != nil {
		return Version{}, errors.Wrapf(err, "unable to create version directory %s", v.Dir)
	}

	return v, nil
}

// NextTransformerPath creates the next version directory and returns the
// transformer path in it. Prefer Publish, which never exposes a partial version.
func (r *Resolver) NextTransformerPath() (string, error) {
	v, err := r.next()
	if err != nil {
		return "", err
	}

	return v.TransformerPath(), nil
}

func (r *Resolver) NextModelPath() (string, error) {
	v, err := r.next()
	if err != nil {
		return "", err
	}

	return v.ModelPath(), nil
}

func (r *Resolver) NextTargetEncoderPath() (string, error) {
	v, err := r.next()
	if err != nil {
		return "", err
	}

	return v.TargetEncoderPath(), nil
}

// Publish adds a version. write receives a staging Version, not yet visible to
// resolution, and must save the three artifacts in it. The staging directory
// is then renamed onto the next version number; when another publisher took
// that number first the following one is tried.
func (r *Resolver) Publish(ctx context.Context, write func(stage Version) error) (Version, error) {
	staging := Version{Number: NoVersion, Dir: filepath.Join(r.root, stagingPrefix+uuid.NewString())}

	err := os.Mkdir(staging.Dir, 0o755)
	if err != nil {
		return Version{}, errors.Wrapf(err, "unable to create staging directory %s", staging.Dir)
	}

	defer os.RemoveAll(staging.Dir)

	err = write(staging)
	if err != nil {
		return Version{}, errors.Wrap(err, "unable to write artifacts")
	}

	if !staging.Complete() {
		return Version{}, errors.Wrap(ErrIncompleteVersion, staging.Dir)
	}

	for range r.publishAttempts {
		if ctx.Err() != nil {
			return Version{}, errors.Wrap(ctx.Err(), "publish cancelled")
		}

		n, err := r.nextSlot()
		if err != nil {
			return Version{}, err
		}

		v := Version{Number: n, Dir: r.versionDir(n)}

		err = os.Rename(staging.Dir, v.Dir)
		if err == nil {
			r.logger.Info("published model version", slog.Int("version", v.Number), slog.String("dir", v.Dir))

			return v, nil
		}

		// a non-empty target means another publisher claimed n, a file
		// created there since nextSlot looked gives ENOTDIR
		if !errors.Is(err, fs.ErrExist) && !errors.Is(err, syscall.ENOTDIR) {
			return Version{}, errors.Wrapf(err, "unable to publish version %d", n)
		}

		r.logger.Warn("version number taken, retrying", slog.Int("version", n))
	}

	return Version{}, errors.Wrapf(ErrPublishConflict, "after %d attempts", r.publishAttempts)
}
