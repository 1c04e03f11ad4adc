package security

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"spectra/domain/entities"
)

func testAssessor() *RiskAssessor {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewRiskAssessor(logger)
}

func TestAssessRiskLevels(t *testing.T) {
	t.Parallel()

	r := testAssessor()

	tests := []struct {
		name   string
		action entities.Action
		url    string
		want   RiskLevel
	}{
		{
			"delete button is high risk",
			entities.Action{Type: entities.ActionClick, Selector: ".delete-account"},
			"https://example.com/settings",
			RiskHigh,
		},
		{
			"click on checkout page is high risk",
			entities.Action{Type: entities.ActionClick, Selector: ".confirm"},
			"https://shop.example/checkout",
			RiskHigh,
		},
		{
			"purchase selector is high risk",
			entities.Action{Type: entities.ActionClick, Selector: ".buy-now"},
			"https://shop.example/item",
			RiskHigh,
		},
		{
			"plain click is medium risk",
			entities.Action{Type: entities.ActionClick, Selector: ".menu"},
			"https://example.com",
			RiskMedium,
		},
		{
			"typing is medium risk",
			entities.Action{Type: entities.ActionTypeText, Selector: "input"},
			"https://example.com",
			RiskMedium,
		},
		{
			"extraction is low risk",
			entities.Action{Type: entities.ActionExtractText, Selector: "body"},
			"https://example.com",
			RiskLow,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, r.Assess(&tc.action, tc.url))
		})
	}
}

func TestIsDestructive(t *testing.T) {
	t.Parallel()

	r := testAssessor()

	destructive := entities.Action{Type: entities.ActionClick, Description: "Remove the saved address"}
	assert.True(t, r.IsDestructive(&destructive))

	// only clicks can be destructive
	typed := entities.Action{Type: entities.ActionTypeText, Selector: ".delete"}
	assert.False(t, r.IsDestructive(&typed))

	benign := entities.Action{Type: entities.ActionClick, Selector: ".next-page"}
	assert.False(t, r.IsDestructive(&benign))
}
