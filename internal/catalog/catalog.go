// Package catalog holds the practice scenarios and client personas offered
// by the setup wizard and resolves a setup selection into the descriptors a
// session is started with.
package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// Difficulty grades a scenario.
type Difficulty string

const (
	Easy   Difficulty = "Easy"
	Medium Difficulty = "Medium"
	Hard   Difficulty = "Hard"
)

// Scenario is one predefined practice situation.
type Scenario struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Difficulty  Difficulty `json:"difficulty"`

	// Duration is the expected length as shown to the trainee, e.g. "10-15 min".
	Duration string `json:"duration"`
}

// ClientType is a persona the simulated client plays.
type ClientType struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// GeneralClient is the persona used when no client type is selected.
const GeneralClient = "General Client"

var (
	// ErrScenarioRequired is returned by [Resolve] when neither a scenario id
	// nor custom scenario text was supplied.
	ErrScenarioRequired = errors.New("catalog: a scenario or custom scenario is required")

	// ErrUnknownScenario is returned by [Resolve] for an id not in [Scenarios].
	ErrUnknownScenario = errors.New("catalog: unknown scenario")

	// ErrUnknownClientType is returned by [Resolve] for an id not in [ClientTypes].
	ErrUnknownClientType = errors.New("catalog: unknown client type")
)

// Scenarios lists the predefined scenarios in display order.
var Scenarios = []Scenario{
	{ID: "first-time-buyer", Name: "First-Time Home Buyer", Description: "Practice guiding a nervous first-time buyer through the process", Difficulty: Easy, Duration: "10-15 min"},
	{ID: "seller-consultation", Name: "Seller Consultation", Description: "Conduct a listing presentation and market analysis", Difficulty: Medium, Duration: "15-20 min"},
	{ID: "difficult-client", Name: "Difficult Client", Description: "Handle objections and challenging client behavior", Difficulty: Hard, Duration: "20-25 min"},
	{ID: "luxury-client", Name: "Luxury Client", Description: "Work with high-end clients and luxury properties", Difficulty: Medium, Duration: "15-20 min"},
	{ID: "fsbo-client", Name: "FSBO Client", Description: "Convince a For Sale By Owner to list with you", Difficulty: Hard, Duration: "20-25 min"},
	{ID: "investor-client", Name: "Real Estate Investor", Description: "Work with investment property buyers", Difficulty: Medium, Duration: "15-20 min"},
}

// ClientTypes lists the predefined personas in display order.
var ClientTypes = []ClientType{
	{ID: "nervous", Name: "Nervous & Anxious", Description: "Needs reassurance and hand-holding"},
	{ID: "aggressive", Name: "Aggressive & Demanding", Description: "Knows what they want, very direct"},
	{ID: "indecisive", Name: "Indecisive & Uncertain", Description: "Struggles with decision making"},
	{ID: "sophisticated", Name: "Sophisticated & Analytical", Description: "Wants data and market analysis"},
	{ID: "budget-conscious", Name: "Budget-Conscious", Description: "Price-sensitive, looking for deals"},
	{ID: "time-pressed", Name: "Time-Pressed", Description: "Busy professional, wants efficiency"},
}

// FindScenario looks up a scenario by id.
func FindScenario(id string) (Scenario, bool) {
	for _, s := range Scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return Scenario{}, false
}

// FindClientType looks up a client type by id.
func FindClientType(id string) (ClientType, bool) {
	for _, c := range ClientTypes {
		if c.ID == id {
			return c, true
		}
	}
	return ClientType{}, false
}

// Selection is what the trainee picked in the setup wizard.
type Selection struct {
	ScenarioID     string `json:"scenarioId"`
	CustomScenario string `json:"customScenario"`
	ClientTypeID   string `json:"clientTypeId"`
}

// Resolve turns sel into the scenario and client type descriptors. Custom
// scenario text wins over a selected scenario. An empty client type resolves
// to [GeneralClient].
func Resolve(sel Selection) (scenario, clientType string, err error) {
	switch custom := strings.TrimSpace(sel.CustomScenario); {
	case custom != "":
		scenario = custom
	case sel.ScenarioID != "":
		s, ok := FindScenario(sel.ScenarioID)
		if !ok {
			return "", "", fmt.Errorf("%w: %q", ErrUnknownScenario, sel.ScenarioID)
		}
		scenario = s.Name
	default:
		return "", "", ErrScenarioRequired
	}

	clientType = GeneralClient
	if sel.ClientTypeID != "" {
		c, ok := FindClientType(sel.ClientTypeID)
		if !ok {
			return "", "", fmt.Errorf("%w: %q", ErrUnknownClientType, sel.ClientTypeID)
		}
		clientType = c.Name
	}
	return scenario, clientType, nil
}
