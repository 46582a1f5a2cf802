package common

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string, headers map[string]string) error
	ResponseContains(field string) bool
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
}

// RegisterSteps registers common step definitions used across features
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	// Background steps
	ctx.Step(`^the credential engine is running$`, steps.engineIsRunning)

	// Response assertion steps
	ctx.Step(`^the response status should be (\d+)$`, steps.responseStatusShouldBe)
	ctx.Step(`^the response should contain "([^"]*)"$`, steps.responseShouldContain)
	ctx.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, steps.responseFieldShouldEqual)
	ctx.Step(`^the response field "([^"]*)" should contain "([^"]*)"$`, steps.responseFieldShouldContain)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) engineIsRunning(ctx context.Context) error {
	if err := s.tc.GET("/health/live", nil); err != nil {
		return err
	}
	return s.responseStatusShouldBe(ctx, 200)
}

func (s *commonSteps) responseStatusShouldBe(ctx context.Context, expectedStatus int) error {
	actualStatus := s.tc.GetLastResponseStatus()
	if actualStatus != expectedStatus {
		return fmt.Errorf("expected status %d but got %d\nResponse: %s", expectedStatus, actualStatus, string(s.tc.GetLastResponseBody()))
	}
	return nil
}

func (s *commonSteps) responseShouldContain(ctx context.Context, field string) error {
	if !s.tc.ResponseContains(field) {
		return fmt.Errorf("response does not contain field: %s\nResponse: %s", field, string(s.tc.GetLastResponseBody()))
	}
	return nil
}

func (s *commonSteps) responseFieldShouldEqual(ctx context.Context, field, expectedValue string) error {
	actualValue, err := s.field(field)
	if err != nil {
		return err
	}
	if fmt.Sprint(actualValue) != expectedValue {
		return fmt.Errorf("field %s: expected %s but got %v", field, expectedValue, actualValue)
	}
	return nil
}

func (s *commonSteps) responseFieldShouldContain(ctx context.Context, field, expectedSubstring string) error {
	actualValue, err := s.field(field)
	if err != nil {
		return err
	}
	if !strings.Contains(fmt.Sprint(actualValue), expectedSubstring) {
		return fmt.Errorf("field %s: expected to contain %s but got %v", field, expectedSubstring, actualValue)
	}
	return nil
}

func (s *commonSteps) field(field string) (interface{}, error) {
	var data map[string]interface{}
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &data); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	value, ok := data[field]
	if !ok {
		return nil, fmt.Errorf("field %s not found in response", field)
	}
	return value, nil
}
