package utils

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const taskChanSize = 100

type WorkerFunction = func(t *tomb.Tomb, task any) error

// WorkerPool fans queued tasks out to a fixed set of workers tied to the
// caller's tomb.
type WorkerPool struct {
	n     int      // number of workers
	tasks chan any // pending tasks
}

func NewWorkerPool(size int) WorkerPool {
	return WorkerPool{
		tasks: make(chan any, taskChanSize),
		n:     size,
	}
}

// Setup starts the workers. Each runs until the tomb dies or the work
// function returns an error, which kills the whole tomb.
func (pool *WorkerPool) Setup(t *tomb.Tomb, work WorkerFunction) {
	log.Info().Int("workers", pool.n).Msg("starting worker pool")
	for i := 0; i < pool.n; i++ {
		t.Go(func() error {
			return pool.worker(t, work)
		})
	}
}

func (pool *WorkerPool) AddTask(task any) {
	pool.tasks <- task
}

func (pool *WorkerPool) worker(t *tomb.Tomb, work WorkerFunction) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case task := <-pool.tasks:
			if err := work(t, task); err != nil {
				log.Error().Err(err).Msg("worker exiting")
				return err
			}
		}
	}
}
