package selector

import "testing"

func TestByText(t *testing.T) {
	tests := []struct {
		name         string
		platform     string
		text         string
		exact        bool
		wantStrategy string
		wantValue    string
	}{
		{
			"Android contains",
			"android", "Login", false,
			StrategyUIAutomator,
			`new UiSelector().textContains("Login")`,
		},
		{
			"Android exact",
			"android", "Login", true,
			StrategyUIAutomator,
			`new UiSelector().text("Login")`,
		},
		{
			"iOS contains",
			"ios", "Login", false,
			StrategyIOSPredicate,
			`label CONTAINS "Login" OR name CONTAINS "Login" OR value CONTAINS "Login"`,
		},
		{
			"iOS exact",
			"ios", "Login", true,
			StrategyIOSPredicate,
			`label == "Login" OR name == "Login" OR value == "Login"`,
		},
		{
			"Quotes escaped",
			"android", `Say "hi"`, true,
			StrategyUIAutomator,
			`new UiSelector().text("Say \"hi\"")`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := ByText(tt.platform, tt.text, tt.exact)
			if sel.Strategy != tt.wantStrategy {
				t.Errorf("Expected strategy %q, got %q", tt.wantStrategy, sel.Strategy)
			}
			if sel.Value != tt.wantValue {
				t.Errorf("Expected value %q, got %q", tt.wantValue, sel.Value)
			}
		})
	}
}

func TestByID(t *testing.T) {
	android := ByID("android", "submit_button")
	if android.Strategy != StrategyID {
		t.Errorf("Expected id strategy on Android, got %q", android.Strategy)
	}
	if android.Value != "submit_button" {
		t.Errorf("Expected raw id value, got %q", android.Value)
	}

	ios := ByID("ios", "submit_button")
	if ios.Strategy != StrategyAccessibility {
		t.Errorf("Expected accessibility id strategy on iOS, got %q", ios.Strategy)
	}
}

func TestByXPath(t *testing.T) {
	sel := ByXPath("//android.widget.Button[@text='OK']")
	if sel.Strategy != StrategyXPath {
		t.Errorf("Expected xpath strategy, got %q", sel.Strategy)
	}
	if sel.Value != "//android.widget.Button[@text='OK']" {
		t.Errorf("Unexpected value %q", sel.Value)
	}
}

func TestDisplay(t *testing.T) {
	tests := []struct {
		name string
		sel  Selector
		want string
	}{
		{"text", ByText("android", "Login", false), `text="Login"`},
		{"id", ByID("android", "submit"), `id="submit"`},
		{"xpath", ByXPath("//btn"), `xpath="//btn"`},
		{"zero", Selector{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sel.String(); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestIsZero(t *testing.T) {
	if !(Selector{}).IsZero() {
		t.Error("Zero selector should report IsZero")
	}
	if ByXPath("//a").IsZero() {
		t.Error("Populated selector should not report IsZero")
	}
}
