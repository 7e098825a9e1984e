package leave

import "time"

// Options configure an Engine. Zero values use the defaults.
type Options struct {
	// GraceDays nil uses DefaultGraceDays; 0 rejects every past-dated request.
	GraceDays      *int
	AccrualWorkers int
	// Now overrides the clock; tests pin it to a fixed day.
	Now func() time.Time
}

// Engine wires the components over one store.
type Engine struct {
	Calendars   *CalendarService
	WorkingDays *WorkingDayCalculator
	Ledger      *Ledger
	Validator   *Validator
	Requests    *RequestService
	Accruals    *AccrualEngine
}

func NewEngine(store Store, employees EmployeeDirectory, attachments AttachmentChecker, events EventSink, opts Options) *Engine {
	events = sinkOrNop(events)
	graceDays := DefaultGraceDays
	if opts.GraceDays != nil {
		graceDays = *opts.GraceDays
	}
	calendars := NewCalendarService(store, events)
	workingDays := NewWorkingDayCalculator(calendars)
	ledger := NewLedger(store, events)
	validator := NewValidator(employees, calendars, attachments, graceDays)
	requests := NewRequestService(store, ledger, workingDays, validator, events)
	accruals := NewAccrualEngine(store, employees, ledger, events, opts.AccrualWorkers)

	if opts.Now != nil {
		ledger.now = opts.Now
		validator.now = opts.Now
		requests.now = opts.Now
		accruals.now = opts.Now
	}

	return &Engine{
		Calendars:   calendars,
		WorkingDays: workingDays,
		Ledger:      ledger,
		Validator:   validator,
		Requests:    requests,
		Accruals:    accruals,
	}
}
