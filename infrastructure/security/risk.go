package security

import (
	"strings"

	"github.com/sirupsen/logrus"

	"spectra/domain/entities"
)

// RiskLevel grades how dangerous an action is to run unattended.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskAssessor grades actions before execution so the orchestrator can
// log and audit high-risk operations.
type RiskAssessor struct {
	logger *logrus.Logger
}

func NewRiskAssessor(logger *logrus.Logger) *RiskAssessor {
	return &RiskAssessor{logger: logger}
}

var destructiveKeywords = []string{
	"delete", "remove", "cancel", "clear", "reset", "trash",
}

var paymentKeywords = []string{
	"payment", "pay", "checkout", "order", "purchase", "buy",
}

// Assess returns the risk level for an action, taking the current page
// URL into account.
func (r *RiskAssessor) Assess(action *entities.Action, currentURL string) RiskLevel {
	if r.IsDestructive(action) {
		return RiskHigh
	}
	if r.isPaymentStep(action, currentURL) {
		return RiskHigh
	}

	switch action.Type {
	case entities.ActionClick, entities.ActionTypeText, entities.ActionUploadFile:
		return RiskMedium
	}
	return RiskLow
}

// IsDestructive reports whether the action targets something that
// deletes or discards data.
func (r *RiskAssessor) IsDestructive(action *entities.Action) bool {
	if action.Type != entities.ActionClick {
		return false
	}

	selector := strings.ToLower(action.Selector)
	desc := strings.ToLower(action.Description)

	for _, keyword := range destructiveKeywords {
		if strings.Contains(selector, keyword) || strings.Contains(desc, keyword) {
			return true
		}
	}
	return false
}

func (r *RiskAssessor) isPaymentStep(action *entities.Action, currentURL string) bool {
	if action.Type != entities.ActionClick {
		return false
	}

	url := strings.ToLower(currentURL)
	for _, keyword := range paymentKeywords {
		if strings.Contains(url, keyword) {
			r.logger.WithField("url", currentURL).Debug("Payment context detected")
			return true
		}
	}

	selector := strings.ToLower(action.Selector)
	for _, keyword := range paymentKeywords {
		if strings.Contains(selector, keyword) {
			return true
		}
	}
	return false
}
