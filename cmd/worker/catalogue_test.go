package main

import (
	"encoding/json"
	"testing"

	"github.com/fundhub/fundhub-engine/internal/domain/achievement"
	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCatalogue(t *testing.T) {
	data := []byte(`{"achievements": [
		{"id": "first-steps", "name": "First steps", "icon": "seedling",
		 "criteria": [{"type": "event_count_all", "value": "1"}]},
		{"id": "patron", "name": "Patron",
		 "criteria": [
			{"id": "patron-bank", "type": "EVENT_INCOME_ALL", "value": 1000},
			{"type": "USER_ACTIVITY", "value": "7"}
		 ]}
	]}`)

	got, err := parseCatalogue(data)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "first-steps", got[0].ID)
	assert.Equal(t, "seedling", got[0].Icon)
	require.Len(t, got[0].Criteria, 1)
	assert.Equal(t, "first-steps-1", got[0].Criteria[0].ID)
	assert.Equal(t, achievement.EventCountAll, got[0].Criteria[0].Type)

	patron := got[1]
	require.Len(t, patron.Criteria, 2)
	assert.Equal(t, "patron-bank", patron.Criteria[0].ID)
	assert.Equal(t, "1000", patron.Criteria[0].Value.String())
	assert.Equal(t, "patron-2", patron.Criteria[1].ID)
	assert.Equal(t, "patron", patron.Criteria[1].AchievementID)
}

func TestParseCatalogue_Rejects(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"malformed", `{"achievements": [`},
		{"missing name", `{"achievements": [{"id": "a", "criteria": [{"type": "USER_BANK", "value": "1"}]}]}`},
		{"no criteria", `{"achievements": [{"id": "a", "name": "A"}]}`},
		{"zero value", `{"achievements": [{"id": "a", "name": "A", "criteria": [{"type": "USER_BANK", "value": "0"}]}]}`},
		{"duplicate achievement", `{"achievements": [
			{"id": "a", "name": "A", "criteria": [{"id": "x", "type": "USER_BANK", "value": "1"}]},
			{"id": "a", "name": "A", "criteria": [{"id": "y", "type": "USER_BANK", "value": "1"}]}]}`},
		{"duplicate criterion", `{"achievements": [
			{"id": "a", "name": "A", "criteria": [{"id": "x", "type": "USER_BANK", "value": "1"}]},
			{"id": "b", "name": "B", "criteria": [{"id": "x", "type": "USER_BANK", "value": "1"}]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseCatalogue([]byte(tt.json))
			assert.Error(t, err)
		})
	}
}

func TestParseCatalogue_UnknownCriterionType(t *testing.T) {
	_, err := parseCatalogue([]byte(`{"achievements": [{"id": "a", "name": "A", "criteria": [{"type": "KARMA", "value": "1"}]}]}`))
	require.Error(t, err)
	assert.True(t, shared.IsConfiguration(err))
}

func TestEventFile_Command(t *testing.T) {
	var f eventFile
	require.NoError(t, json.Unmarshal([]byte(`{
		"owner_id": "6f1f4a3e-8a7c-4c1e-9d0b-3b7f2b1d5a01",
		"title": "roof repair",
		"type": "FUNDRAISING",
		"policy": "ALL",
		"start": true,
		"groups": [
			{"type": "AND", "conditions": [
				{"parameter": "bank", "operator": ">=", "value": "1000"},
				{"parameter": "time", "operator": "<", "value": "2026-12-01T00:00:00Z"}
			]},
			{"type": "OR", "conditions": [{"parameter": "people", "operator": ">=", "value": "20"}]}
		]
	}`), &f))

	cmd := f.command()
	assert.Equal(t, "roof repair", cmd.Title)
	assert.Equal(t, "ALL", cmd.Policy)
	assert.True(t, cmd.Start)
	require.Len(t, cmd.Groups, 2)
	require.Len(t, cmd.Groups[0].Conditions, 2)
	assert.Equal(t, "time", cmd.Groups[0].Conditions[1].Parameter)
	assert.Equal(t, "<", cmd.Groups[0].Conditions[1].Operator)
	assert.Equal(t, "OR", cmd.Groups[1].Type)
}

func TestNewApp_Commands(t *testing.T) {
	app := newApp()

	var names []string
	for _, c := range app.Commands {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{"run", "sweep", "migrate", "event", "user", "achievements"}, names)

	event := app.Command("event")
	require.NotNil(t, event)
	var sub []string
	for _, c := range event.Subcommands {
		sub = append(sub, c.Name)
	}
	assert.Equal(t, []string{"create", "start", "cancel", "participate"}, sub)
}
