package domain

import "time"

// reconcile enforces the cross-axis invariants after every mutation.
// It never invents transitions; it only derives the automation status
// and scheduling fields the other fields imply.
func (l *Lead) reconcile(now time.Time) {
	// opted_out <=> dnd, on both axes
	if l.OptedOut {
		l.AutomationStatus = AutomationDND
		l.ConversionStatus = ConversionDND
	}

	// A terminal funnel status ends automation even mid-sequence
	if l.ConversionStatus.IsTerminal() && !l.OptedOut {
		if l.AutomationStatus != AutomationError {
			l.AutomationStatus = AutomationCompleted
		}
	}

	// A claimed conversation is never active
	if l.ManualTakeover && l.AutomationStatus == AutomationActive {
		l.AutomationStatus = AutomationPaused
	}

	// next_action_at is non-null iff the engine may act
	if l.AutomationStatus != AutomationActive {
		l.NextActionAt = nil
		l.DispatchLeasedUntil = nil
	}

	l.UpdatedAt = now
}

// Admit moves a queued lead into active automation. Called by the
// dispatch loop once campaign capacity permits.
func (l *Lead) Admit(nextActionAt, now time.Time) error {
	if l.AutomationStatus != AutomationQueued {
		return rejected(l.AutomationStatus, AutomationActive, "only queued leads can be admitted")
	}
	if l.OptedOut {
		return ErrComplianceViolation
	}
	if l.ManualTakeover {
		return ErrManualTakeover
	}

	l.AutomationStatus = AutomationActive
	l.NextActionAt = &nextActionAt
	l.reconcile(now)
	return nil
}

// Pause suspends automation without losing bump progress
func (l *Lead) Pause(now time.Time) error {
	switch l.AutomationStatus {
	case AutomationQueued, AutomationActive:
	default:
		return rejected(l.AutomationStatus, AutomationPaused, "lead is not running")
	}

	l.AutomationStatus = AutomationPaused
	l.reconcile(now)
	return nil
}

// Resume reactivates a paused lead. The caller replans the schedule
// anchored at now and supplies the result.
func (l *Lead) Resume(nextActionAt, now time.Time) error {
	if l.AutomationStatus != AutomationPaused {
		return rejected(l.AutomationStatus, AutomationActive, "only paused leads can resume")
	}
	if l.OptedOut {
		return ErrComplianceViolation
	}
	if l.ManualTakeover {
		return ErrManualTakeover
	}

	l.AutomationStatus = AutomationActive
	l.NextActionAt = &nextActionAt
	l.reconcile(now)
	return nil
}

// SetManualTakeover claims or releases the conversation for a human.
// Claiming pauses automation; releasing never auto-resumes.
func (l *Lead) SetManualTakeover(on bool, now time.Time) {
	l.ManualTakeover = on
	l.reconcile(now)
}

// OptOut marks the lead do-not-contact. Irreversible without an
// explicit compliance override outside this engine.
func (l *Lead) OptOut(reason string, now time.Time) {
	l.OptedOut = true
	if reason != "" {
		l.DNCReason = reason
	}
	l.reconcile(now)
}

// MarkError quarantines the lead after dispatch exhausted retries.
// Error leads are surfaced to operators and never auto-retried.
func (l *Lead) MarkError(now time.Time) {
	l.AutomationStatus = AutomationError
	l.reconcile(now)
}

// Requeue is the operator action returning an errored lead to the
// admission queue.
func (l *Lead) Requeue(now time.Time) error {
	if l.AutomationStatus != AutomationError {
		return rejected(l.AutomationStatus, AutomationQueued, "only errored leads can be requeued")
	}
	if l.OptedOut {
		return ErrComplianceViolation
	}

	l.AutomationStatus = AutomationQueued
	l.reconcile(now)
	return nil
}

// Complete ends the automated cadence, keeping the funnel status
func (l *Lead) Complete(now time.Time) {
	l.AutomationStatus = AutomationCompleted
	l.reconcile(now)
}

// RecordOutboundSend applies a successful send of the given stage,
// where stage 0 is the first message and stages 1..3 are bumps.
func (l *Lead) RecordOutboundSend(stage int, sentAt time.Time) error {
	if l.OptedOut {
		return ErrComplianceViolation
	}
	if l.AutomationStatus != AutomationActive {
		return rejected(l.AutomationStatus, l.AutomationStatus, "sends are only recorded on active leads")
	}

	switch stage {
	case 0:
		if l.FirstMessageSentAt != nil {
			return rejected(l.AutomationStatus, l.AutomationStatus, "first message already sent")
		}
		l.FirstMessageSentAt = &sentAt
		if l.ConversionStatus == ConversionNew {
			l.ConversionStatus = ConversionContacted
		}
	case 1, 2, 3:
		if stage != l.CurrentBumpStage+1 {
			return rejected(l.AutomationStatus, l.AutomationStatus, "bump stage out of order")
		}
		switch stage {
		case 1:
			l.Bump1SentAt = &sentAt
		case 2:
			l.Bump2SentAt = &sentAt
		case 3:
			l.Bump3SentAt = &sentAt
		}
		l.CurrentBumpStage = stage
	default:
		return rejected(l.AutomationStatus, l.AutomationStatus, "unknown bump stage")
	}

	l.MessageCountSent++
	l.LastMessageSentAt = &sentAt
	l.LastInteractionAt = &sentAt
	l.reconcile(sentAt)
	return nil
}

// RecordInbound applies an inbound message from the lead
func (l *Lead) RecordInbound(receivedAt, now time.Time) {
	l.MessageCountReceived++
	l.LastMessageReceivedAt = &receivedAt
	l.LastInteractionAt = &receivedAt

	switch l.ConversionStatus {
	case ConversionNew, ConversionContacted:
		l.ConversionStatus = ConversionResponded
	case ConversionResponded:
		l.ConversionStatus = ConversionMultipleResponses
	}

	l.reconcile(now)
}

// Qualify applies the external qualification signal
func (l *Lead) Qualify(now time.Time) error {
	if l.ConversionStatus.IsTerminal() {
		return rejected(l.AutomationStatus, l.AutomationStatus, "lead funnel is terminal")
	}
	if l.ConversionStatus == ConversionQualified {
		return nil
	}

	l.ConversionStatus = ConversionQualified
	l.reconcile(now)
	return nil
}

// Book applies a booking confirmation. Terminal for automation.
func (l *Lead) Book(now time.Time) error {
	if l.OptedOut {
		return ErrComplianceViolation
	}
	if l.ConversionStatus == ConversionLost {
		return rejected(l.AutomationStatus, l.AutomationStatus, "lost leads cannot be booked")
	}

	l.ConversionStatus = ConversionBooked
	l.reconcile(now)
	return nil
}

// MarkLost marks the lead lost. Terminal for automation.
func (l *Lead) MarkLost(now time.Time) error {
	if l.ConversionStatus == ConversionBooked {
		return rejected(l.AutomationStatus, l.AutomationStatus, "booked leads cannot be marked lost")
	}

	l.ConversionStatus = ConversionLost
	l.reconcile(now)
	return nil
}

// Replan updates next_action_at for an active lead
func (l *Lead) Replan(nextActionAt time.Time, now time.Time) error {
	if l.AutomationStatus != AutomationActive {
		return rejected(l.AutomationStatus, l.AutomationStatus, "only active leads are scheduled")
	}
	l.NextActionAt = &nextActionAt
	l.reconcile(now)
	return nil
}
