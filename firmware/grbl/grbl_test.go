package grbl

import (
	"testing"

	"github.com/thawkins/gcodekit4-sub000/types"
)

func TestClassifyAck(t *testing.T) {
	rec := Classify("ok")
	if rec.Kind != types.RecAck {
		t.Fatalf("Kind = %v, want RecAck", rec.Kind)
	}
}

func TestClassifyErr(t *testing.T) {
	rec := Classify("error:9")
	if rec.Kind != types.RecErr || rec.ErrCode != 9 {
		t.Fatalf("rec = %+v, want RecErr/9", rec)
	}
}

func TestClassifyAlarm(t *testing.T) {
	rec := Classify("ALARM:1")
	if rec.Kind != types.RecAlarm || rec.AlarmCode != 1 {
		t.Fatalf("rec = %+v, want RecAlarm/1", rec)
	}
}

func TestClassifyStatusParsesMPosAndFS(t *testing.T) {
	rec := Classify("<Run|MPos:1.000,2.000,3.000|FS:500,8000>")
	if rec.Kind != types.RecStatus {
		t.Fatalf("Kind = %v, want RecStatus", rec.Kind)
	}
	st := rec.Status
	if st.Controller != types.Run {
		t.Fatalf("Controller = %v, want Run", st.Controller)
	}
	if !st.HasMachinePos || st.MachinePos[0] != 1 || st.MachinePos[1] != 2 || st.MachinePos[2] != 3 {
		t.Fatalf("MachinePos = %v", st.MachinePos)
	}
	if !st.HasFeedSpindle || st.FeedActual != 500 || st.SpindleActual != 8000 {
		t.Fatalf("FeedActual/SpindleActual = %v/%v", st.FeedActual, st.SpindleActual)
	}
}

func TestClassifyStatusParsesOverrides(t *testing.T) {
	rec := Classify("<Idle|Ov:110,100,90>")
	if !rec.Status.HasOverrides {
		t.Fatal("expected HasOverrides")
	}
	want := types.Overrides{Feed: 110, Rapid: 100, Spindle: 90}
	if rec.Status.Overrides != want {
		t.Fatalf("Overrides = %+v, want %+v", rec.Status.Overrides, want)
	}
}

func TestClassifyWelcome(t *testing.T) {
	rec := Classify("Grbl 1.1h ['$' for help]")
	if rec.Kind != types.RecWelcome {
		t.Fatalf("Kind = %v, want RecWelcome", rec.Kind)
	}
}

func TestClassifySetting(t *testing.T) {
	rec := Classify("$110=500.000")
	if rec.Kind != types.RecSetting || rec.SettingKey != "110" || rec.SettingValue != "500.000" {
		t.Fatalf("rec = %+v", rec)
	}
}

func TestClassifyFeedback(t *testing.T) {
	rec := Classify("[MSG:Caution: Unlocked]")
	if rec.Kind != types.RecFeedback || rec.FeedbackText != "MSG:Caution: Unlocked" {
		t.Fatalf("rec = %+v", rec)
	}
}

func TestClassifyUnknownFallsThrough(t *testing.T) {
	rec := Classify("garbage line")
	if rec.Kind != types.RecUnknown {
		t.Fatalf("Kind = %v, want RecUnknown", rec.Kind)
	}
}

func TestDetectWelcomeParsesVersion(t *testing.T) {
	var a adapter
	v, ok := a.DetectWelcome("Grbl 1.1h ['$' for help]")
	if !ok {
		t.Fatal("expected welcome recognized")
	}
	if v.Major != 1 || v.Minor != 1 {
		t.Fatalf("version = %+v, want 1.1", v)
	}
}

func TestDetectWelcomeRejectsUnrelatedLine(t *testing.T) {
	var a adapter
	if _, ok := a.DetectWelcome("not a welcome banner"); ok {
		t.Fatal("expected no match")
	}
}

func TestParseVersionTokenToleratesSuffix(t *testing.T) {
	v, ok := ParseVersionToken("1.1h")
	if !ok || v.Major != 1 || v.Minor != 1 {
		t.Fatalf("v=%+v ok=%v, want 1.1/true", v, ok)
	}
}

func TestFormatterJog(t *testing.T) {
	var a adapter
	f := a.Formatter()
	got := f.Jog("X", -5, 800)
	want := "$J=G91 G21 X-5 F800"
	if got != want {
		t.Fatalf("Jog = %q, want %q", got, want)
	}
}

func TestFormatterHomeAllAxes(t *testing.T) {
	var a adapter
	f := a.Formatter()
	if got := f.Home(nil); got != "$H" {
		t.Fatalf("Home(nil) = %q, want $H", got)
	}
}

func TestCapabilitiesResolvesByVersion(t *testing.T) {
	var a adapter
	v09 := a.Capabilities(types.Version{Major: 0, Minor: 9})
	if v09.Overrides {
		t.Fatal("GRBL 0.9 should not report Overrides support")
	}
	v11 := a.Capabilities(types.Version{Major: 1, Minor: 1})
	if !v11.Overrides || !v11.Probing {
		t.Fatalf("GRBL 1.1 caps = %+v, want Overrides and Probing", v11)
	}
}
