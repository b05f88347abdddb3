package ui

import (
	"os"
	"testing"
)

func TestShouldUseColor_NoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	t.Setenv("CLICOLOR_FORCE", "1")
	if ShouldUseColor() {
		t.Error("NO_COLOR should win over CLICOLOR_FORCE")
	}
}

func TestShouldUseColor_ClicolorZero(t *testing.T) {
	t.Setenv("CLICOLOR", "0")
	if ShouldUseColor() {
		t.Error("CLICOLOR=0 should disable color")
	}
}

func TestShouldUseColor_Force(t *testing.T) {
	if _, set := os.LookupEnv("NO_COLOR"); set {
		t.Skip("NO_COLOR set in the environment")
	}
	t.Setenv("CLICOLOR", "")
	t.Setenv("CLICOLOR_FORCE", "1")
	if !ShouldUseColor() {
		t.Error("CLICOLOR_FORCE should enable color without a TTY")
	}
}

func TestIsCI(t *testing.T) {
	for _, k := range []string{"CI", "JENKINS_URL", "BUILD_NUMBER"} {
		t.Setenv(k, "")
	}
	if IsCI() {
		t.Error("IsCI with no CI variables")
	}
	t.Setenv("JENKINS_URL", "http://ci.example")
	if !IsCI() {
		t.Error("IsCI should detect JENKINS_URL")
	}
}

func TestShouldUseColor_CIIsPlain(t *testing.T) {
	if _, set := os.LookupEnv("CLICOLOR_FORCE"); set {
		t.Skip("CLICOLOR_FORCE set in the environment")
	}
	t.Setenv("CI", "true")
	if ShouldUseColor() {
		t.Error("CI should disable color")
	}
	if _, set := os.LookupEnv("NO_COLOR"); set {
		return
	}
	t.Setenv("CLICOLOR", "")
	t.Setenv("CLICOLOR_FORCE", "1")
	if !ShouldUseColor() {
		t.Error("CLICOLOR_FORCE should win over CI")
	}
}
