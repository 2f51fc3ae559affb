package kpi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefinitionValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Definition)
		wantErr string
	}{
		{
			name:   "valid sum",
			mutate: func(d *Definition) {},
		},
		{
			name:    "missing name",
			mutate:  func(d *Definition) { d.Name = "" },
			wantErr: "name",
		},
		{
			name:    "sum without fields",
			mutate:  func(d *Definition) { d.Calculation.Fields = nil },
			wantErr: "fields",
		},
		{
			name: "percentage with one field",
			mutate: func(d *Definition) {
				d.Calculation.Type = CalcPercentage
				d.Calculation.Fields = []string{"converted"}
			},
			wantErr: "fields",
		},
		{
			name: "ratio with three fields",
			mutate: func(d *Definition) {
				d.Calculation.Type = CalcRatio
				d.Calculation.Fields = []string{"a", "b", "c"}
			},
			wantErr: "fields",
		},
		{
			name: "formula without expression",
			mutate: func(d *Definition) {
				d.Calculation = Calculation{Type: CalcFormula}
			},
			wantErr: "formula",
		},
		{
			name: "formula with nested formula sub-metric",
			mutate: func(d *Definition) {
				d.Calculation = Calculation{
					Type:    CalcFormula,
					Formula: "a + 1",
					Metrics: map[string]*Calculation{
						"a": {Type: CalcFormula, Formula: "b"},
					},
				}
			},
			wantErr: "metrics.a",
		},
		{
			name: "formula with invalid sub-metric",
			mutate: func(d *Definition) {
				d.Calculation = Calculation{
					Type:    CalcFormula,
					Formula: "a",
					Metrics: map[string]*Calculation{
						"a": {Type: CalcSum},
					},
				}
			},
			wantErr: "fields",
		},
		{
			name:    "unknown type",
			mutate:  func(d *Definition) { d.Calculation.Type = "median" },
			wantErr: "type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDefinition()
			tt.mutate(def)
			err := def.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var vErr *ValidationError
			assert.ErrorAs(t, err, &vErr)
			assert.Contains(t, vErr.Field, tt.wantErr)
		})
	}
}

func TestRefreshIntervalDefault(t *testing.T) {
	d := &Definition{}
	assert.Equal(t, 300*time.Second, d.RefreshInterval())

	d.RefreshIntervalSeconds = 60
	assert.Equal(t, time.Minute, d.RefreshInterval())
}
