package services

import "github.com/huangang/reviewiq/internal/models"

// EscalationDecision is the outcome of applying the escalation policy.
type EscalationDecision struct {
	EffectiveSentiment models.Sentiment        `json:"effectiveSentiment"`
	Escalated          bool                    `json:"escalated"`
	EscalationStatus   models.EscalationStatus `json:"escalationStatus"`
	FinalizedStatus    models.ReviewStatus     `json:"finalizedStatus"`
}

// FallbackSentiment derives a sentiment from the star rating alone.
func FallbackSentiment(rating int) models.Sentiment {
	switch {
	case rating <= 2:
		return models.SentimentNegative
	case rating == 3:
		return models.SentimentNeutral
	default:
		return models.SentimentPositive
	}
}

// DecideEscalation applies the escalation policy. classified is nil when the
// classifier produced no usable result. Rating and sentiment are independent
// signals: either one alone escalates.
func DecideEscalation(rating int, classified *models.Sentiment) EscalationDecision {
	effective := FallbackSentiment(rating)
	if classified != nil && classified.Valid() {
		effective = *classified
	}

	escalated := effective == models.SentimentNegative || rating <= 2

	d := EscalationDecision{
		EffectiveSentiment: effective,
		Escalated:          escalated,
		EscalationStatus:   models.EscalationNone,
		FinalizedStatus:    models.ReviewStatusNormal,
	}
	if escalated {
		d.EscalationStatus = models.EscalationEscalated
		d.FinalizedStatus = models.ReviewStatusCritical
	}
	return d
}
