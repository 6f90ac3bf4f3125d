//Package pool runs batches of short simulations on a bounded set of worker
//goroutines. The pool exists only for the duration of a batch; every batch
//gets fresh workers, so a leaked or wedged worker cannot outlive its cycle.
package pool

import (
	"fmt"

	bpmf "github.com/rmera/gobpmf"
)

//retries is how many times a failed task is re-run (with a perturbed seed,
//so a deterministic backend doesn't just fail the same way) before the
//whole batch is given up.
const retries = 2

// Task is one short simulation to run: start from Conf at State, integrate
// Steps steps, seeded with Seed. ID must be the index of the task in its
// batch; results are delivered in that order no matter which worker finishes
// first.
type Task struct {
	ID    int
	Conf  bpmf.Conf
	State *bpmf.Lambda
	Steps int
	Seed  int64
}

//Result pairs a task with what its simulation returned.
type Result struct {
	ID  int
	Res *bpmf.SimResult
	Err error
}

// Run executes every task on at most cpus concurrent workers and returns
// the simulation results ordered by task ID. The first task that keeps
// failing after its retries fails the whole batch.
func Run(sim bpmf.Simulator, tasks []Task, cpus int) ([]*bpmf.SimResult, error) {
	n := len(tasks)
	if n == 0 {
		return nil, nil
	}
	for i, t := range tasks {
		if t.ID < 0 || t.ID >= n {
			return nil, Error{message: fmt.Sprintf("%s: task %d has ID %d", BadID, i, t.ID), critical: true, deco: []string{"Run"}}
		}
	}
	if cpus > n {
		cpus = n
	}
	if cpus < 1 {
		cpus = 1
	}
	in := make(chan Task, n)
	out := make(chan Result, n)
	for w := 0; w < cpus; w++ {
		go worker(sim, in, out)
	}
	for _, t := range tasks {
		in <- t
	}
	close(in)
	results := make([]*bpmf.SimResult, n)
	var firstErr error
	for i := 0; i < n; i++ {
		r := <-out
		if r.Err != nil && firstErr == nil {
			firstErr = Error{message: fmt.Sprintf("%s: task %d: %v", WorkerFailed, r.ID, r.Err), critical: true, deco: []string{"Run"}}
		}
		results[r.ID] = r.Res
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

func worker(sim bpmf.Simulator, in <-chan Task, out chan<- Result) {
	for t := range in {
		var res *bpmf.SimResult
		var err error
		for try := 0; try <= retries; try++ {
			res, err = sim.Sample(t.Conf, t.State, t.Steps, t.Seed+int64(try)*7919)
			if err == nil {
				break
			}
		}
		out <- Result{ID: t.ID, Res: res, Err: err}
	}
}

//Errors

type Error struct {
	message  string
	deco     []string
	critical bool
}

func (err Error) Error() string {
	return fmt.Sprintf("pool error: %s", err.message)
}

func (E Error) Decorate(deco string) []string {
	if deco != "" {
		E.deco = append(E.deco, deco)
	}
	return E.deco
}

func (err Error) Critical() bool { return err.critical }

const (
	WorkerFailed = "Simulation kept failing after retries"
	BadID        = "Task IDs must index their batch"
)
