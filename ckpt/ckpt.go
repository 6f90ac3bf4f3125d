//Package ckpt persists simulation legs between runs. Each leg keeps two
//artifacts in its working directory: a small "progress" file with the
//protocol, the cycle count and the options that produced them, and a bulkier
//"data" file with the replica configurations, the seed pool, the stored
//snapshots and the energy records. Both are zstd-compressed JSON. Saving
//first renames the previous artifact to a .BAK copy, so there is always a
//complete pair on disk; loading falls back to the backup pair when the
//primary one is missing, unreadable or mutually inconsistent, and reports a
//cold start when neither pair is usable. A lock file keeps two calculations
//from working on the same directory at once.
package ckpt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	bpmf "github.com/rmera/gobpmf"
)

// Store reads and writes the artifacts of one simulation leg. All its files
// live in a single directory, which should not be shared with the other leg.
type Store struct {
	dir    string
	proc   bpmf.Process
	o      *bpmf.Options //what Save writes into the progress artifact
	stored *bpmf.Options //what the last successful Load found there
	locked bool
	log    *bpmf.Logger
}

// NewStore prepares a store for the given leg in the given directory,
// creating the directory if needed. o, which may be nil, is echoed into
// every progress artifact the store writes.
func NewStore(dir string, p bpmf.Process, o *bpmf.Options) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, Error{err.Error(), dir, []string{"NewStore"}, true}
	}
	return &Store{dir: dir, proc: p, o: o}, nil
}

// SetLogger sets the logger for recovery notices. The default is silence.
func (S *Store) SetLogger(log *bpmf.Logger) {
	S.log = log
}

// LogName returns the name of the append-only log file that accompanies
// this leg, for (*bpmf.Logger).Attach.
func (S *Store) LogName() string {
	return filepath.Join(S.dir, S.proc.String()+"_log.txt")
}

func (S *Store) artifact(kind string) string {
	return filepath.Join(S.dir, fmt.Sprintf("%s_%s.json.zst", S.proc.String(), kind))
}

func (S *Store) lockName() string {
	return filepath.Join(S.dir, S.proc.String()+".lock")
}

// Lock takes the leg's lock file, failing with a critical error when another
// calculation already holds it. A crashed run leaves its lock behind;
// removing the file by hand releases it.
func (S *Store) Lock() error {
	f, err := os.OpenFile(S.lockName(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return Error{S.proc.String() + " " + AlreadyRunning, S.lockName(), []string{"Lock"}, true}
		}
		return Error{err.Error(), S.lockName(), []string{"Lock"}, true}
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()
	S.locked = true
	return nil
}

// Unlock releases the lock file, if this store holds it.
func (S *Store) Unlock() {
	if S == nil || !S.locked {
		return
	}
	os.Remove(S.lockName())
	S.locked = false
}

// Save writes both artifacts for the given state, keeping the previous pair
// as .BAK copies. It satisfies the Saver interface of the annealing driver.
func (S *Store) Save(s *bpmf.SimState) error {
	err := S.write(S.artifact("progress"), progress{
		Process:  s.Process.String(),
		Protocol: s.Protocol,
		Cycle:    s.Cycle,
		Options:  S.o,
	})
	if err != nil {
		return errDecorate(err, "Save")
	}
	err = S.write(S.artifact("data"), data{
		Replicas: s.Replicas,
		Seeds:    s.Seeds,
		Samples:  s.Samples,
		Es:       s.Es,
		Poses:    s.Poses,
	})
	if err != nil {
		return errDecorate(err, "Save")
	}
	return nil
}

// Load returns the stored leg, or nil when there is nothing usable to resume
// from. An unreadable or inconsistent primary pair is discarded and the .BAK
// pair tried in its place; a load failure is never fatal, it just means a
// cold start.
func (S *Store) Load() *bpmf.SimState {
	pfn := S.artifact("progress")
	dfn := S.artifact("data")
	s, err := S.loadPair(pfn, dfn)
	if err == nil {
		return s
	}
	if !os.IsNotExist(err) {
		S.log.LogVf(1, "stored %s leg is not usable (%v), trying the backups\n", S.proc.String(), err)
	}
	os.Remove(pfn)
	os.Remove(dfn)
	s, err = S.loadPair(pfn+".BAK", dfn+".BAK")
	if err != nil {
		return nil
	}
	S.log.LogVf(1, "recovered the %s leg from the backup pair\n", S.proc.String())
	return s
}

// StoredOptions returns the options found by the last successful Load, or
// nil. These are the settings that produced the stored protocol, worth
// checking before resuming the leg with different ones.
func (S *Store) StoredOptions() *bpmf.Options {
	return S.stored
}

// SaveAux stores a free-standing object, say the free energy tables built in
// postprocessing, next to the leg's artifacts, with the same write-new,
// keep-backup discipline.
func (S *Store) SaveAux(name string, v interface{}) error {
	err := S.write(filepath.Join(S.dir, name+".json.zst"), v)
	if err != nil {
		return errDecorate(err, "SaveAux")
	}
	return nil
}

// LoadAux reads an object stored by SaveAux into v, reporting whether
// anything usable was found. Like Load, it falls back to the backup copy and
// treats failure as absence.
func (S *Store) LoadAux(name string, v interface{}) bool {
	fn := filepath.Join(S.dir, name+".json.zst")
	err := S.read(fn, v)
	if err == nil {
		return true
	}
	if !os.IsNotExist(err) {
		S.log.LogVf(1, "stored %s is not usable (%v), trying the backup\n", name, err)
	}
	os.Remove(fn)
	return S.read(fn+".BAK", v) == nil
}

type progress struct {
	Process  string        `json:"process"`
	Protocol bpmf.Protocol `json:"protocol"`
	Cycle    int           `json:"cycle"`
	Options  *bpmf.Options `json:"options,omitempty"`
}

type data struct {
	Replicas []bpmf.Conf        `json:"replicas"`
	Seeds    []bpmf.Conf        `json:"seeds,omitempty"`
	Samples  [][][]bpmf.Conf    `json:"samples"`
	Es       [][]*bpmf.Energies `json:"energies"`
	Poses    *bpmf.PoseGrid     `json:"poses,omitempty"`
}

func (S *Store) loadPair(pfn, dfn string) (*bpmf.SimState, error) {
	var pg progress
	var da data
	if err := S.read(pfn, &pg); err != nil {
		return nil, err
	}
	if err := S.read(dfn, &da); err != nil {
		return nil, err
	}
	if pg.Process != S.proc.String() {
		return nil, fmt.Errorf("artifact holds a %s leg, not %s", pg.Process, S.proc.String())
	}
	s := bpmf.NewSimState(S.proc)
	s.Protocol = pg.Protocol
	s.Cycle = pg.Cycle
	s.Replicas = da.Replicas
	s.Seeds = da.Seeds
	s.Samples = da.Samples
	s.Es = da.Es
	s.Poses = da.Poses
	k := s.K()
	if len(s.Samples) != k || len(s.Es) != k || len(s.Replicas) != k {
		return nil, fmt.Errorf("progress and data artifacts disagree: %d states, but %d snapshot lists and %d records", k, len(s.Samples), len(s.Es))
	}
	S.stored = pg.Options
	return s, nil
}

// write encodes v into fn, going through a temporary file so the previous
// artifact survives, as the .BAK copy, even if the write dies halfway.
func (S *Store) write(fn string, v interface{}) error {
	tmp := fn + ".new"
	f, err := os.Create(tmp)
	if err != nil {
		return Error{err.Error(), tmp, []string{"write"}, true}
	}
	w, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return Error{err.Error(), tmp, []string{"write"}, true}
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		w.Close()
		f.Close()
		os.Remove(tmp)
		return Error{err.Error(), tmp, []string{"write"}, true}
	}
	if err := w.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return Error{err.Error(), tmp, []string{"write"}, true}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return Error{err.Error(), tmp, []string{"write"}, true}
	}
	if _, err := os.Stat(fn); err == nil {
		if err := os.Rename(fn, fn+".BAK"); err != nil {
			return Error{err.Error(), fn, []string{"write"}, true}
		}
	}
	if err := os.Rename(tmp, fn); err != nil {
		return Error{err.Error(), fn, []string{"write"}, true}
	}
	return nil
}

func (S *Store) read(fn string, v interface{}) error {
	f, err := os.Open(fn)
	if err != nil {
		return err
	}
	defer f.Close()
	d, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer d.Close()
	return json.NewDecoder(d).Decode(v)
}

//Errors

type Error struct {
	message  string
	filename string
	deco     []string
	critical bool
}

func (err Error) Error() string {
	return fmt.Sprintf("ckpt error: %s (file %s)", err.message, err.filename)
}

func (E Error) Decorate(deco string) []string {
	if deco != "" {
		E.deco = append(E.deco, deco)
	}
	return E.deco
}

func (err Error) Critical() bool { return err.critical }

const (
	AlreadyRunning = "is already running in this directory (remove the lock file if that is wrong)"
)

func errDecorate(err error, caller string) error {
	err2 := err.(bpmf.Error) //I know that is the type returned by the functions in this package
	err2.Decorate(caller)
	return err2
}
