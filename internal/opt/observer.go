package opt

import "github.com/cwbudde/gridrefine/internal/eval"

// Observer receives progress notifications from the engine. All calls are
// made from the goroutine running Engine.Run.
type Observer interface {
	RunStarted(info RunInfo)
	RoundStarted(round, total int)
	Evaluated(round int, args []eval.Arg, value float64)
	Retried(round, attempt int, err error)
	Improved(round int, value float64, best []eval.Arg)
	RoundFinished(r RoundResult)
	RunFinished(res *Result, err error)
}

// NopObserver ignores every notification. Embed it to implement only the
// callbacks you need.
type NopObserver struct{}

func (NopObserver) RunStarted(RunInfo) {}
func (NopObserver) RoundStarted(int, int) {}
func (NopObserver) Evaluated(int, []eval.Arg, float64) {}
func (NopObserver) Retried(int, int, error) {}
func (NopObserver) Improved(int, float64, []eval.Arg) {}
func (NopObserver) RoundFinished(RoundResult) {}
func (NopObserver) RunFinished(*Result, error) {}

// MultiObserver fans notifications out in order.
type MultiObserver []Observer

func (m MultiObserver) RunStarted(info RunInfo) {
	for _, o := range m {
		o.RunStarted(info)
	}
}

func (m MultiObserver) RoundStarted(round, total int) {
	for _, o := range m {
		o.RoundStarted(round, total)
	}
}

func (m MultiObserver) Evaluated(round int, args []eval.Arg, value float64) {
	for _, o := range m {
		o.Evaluated(round, args, value)
	}
}

func (m MultiObserver) Retried(round, attempt int, err error) {
	for _, o := range m {
		o.Retried(round, attempt, err)
	}
}

func (m MultiObserver) Improved(round int, value float64, best []eval.Arg) {
	for _, o := range m {
		o.Improved(round, value, best)
	}
}

func (m MultiObserver) RoundFinished(r RoundResult) {
	for _, o := range m {
		o.RoundFinished(r)
	}
}

func (m MultiObserver) RunFinished(res *Result, err error) {
	for _, o := range m {
		o.RunFinished(res, err)
	}
}
