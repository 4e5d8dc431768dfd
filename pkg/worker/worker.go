package worker

import (
	"github.com/hbomb79/Muse/pkg/logger"
)

var log = logger.Get("Worker")

type (
	WorkerWakeupChan chan int
	WorkerStatus     int

	// WorkerTask is the unit of work a Worker repeatedly executes. It should
	// return 'true' if it performed any work, indicating to the worker that it
	// should be called again immediately. A return of 'false' sends the
	// worker back to sleep until it's woken up via it's wakeup channel.
	WorkerTask func(Worker) (bool, error)

	Worker interface {
		Start()
		Status() WorkerStatus
		WakeupChan() WorkerWakeupChan
		Label() string
		Close()
	}

	taskWorker struct {
		label         string
		task          WorkerTask
		wakeupChan    WorkerWakeupChan
		currentStatus WorkerStatus
	}
)

const (
	SLEEPING WorkerStatus = iota
	WORKING
	FINISHED
)

func NewWorker(label string, task WorkerTask) *taskWorker {
	return &taskWorker{
		label:         label,
		task:          task,
		wakeupChan:    make(WorkerWakeupChan),
		currentStatus: SLEEPING,
	}
}

// Start runs the workers task in a loop until the task reports that no
// work remains, at which point the worker sleeps until woken up. A closed
// wakeup channel causes the worker to finish permanently.
func (worker *taskWorker) Start() {
	log.Emit(logger.NEW, "Starting worker %s\n", worker.label)

	for {
		worker.currentStatus = WORKING
		for {
			busy, err := worker.task(worker)
			if err != nil {
				log.Emit(logger.ERROR, "Worker %s task reported an error(%T): %v\n", worker.label, err, err)
				break
			}

			if !busy {
				break
			}
		}

		worker.currentStatus = SLEEPING
		if _, ok := <-worker.wakeupChan; !ok {
			break
		}
	}

	worker.currentStatus = FINISHED
	log.Emit(logger.STOP, "Worker %s has stopped\n", worker.label)
}

func (worker *taskWorker) Close() {
	close(worker.wakeupChan)
}

func (worker *taskWorker) Label() string {
	return worker.label
}

func (worker *taskWorker) Status() WorkerStatus {
	return worker.currentStatus
}

func (worker *taskWorker) WakeupChan() WorkerWakeupChan {
	return worker.wakeupChan
}
