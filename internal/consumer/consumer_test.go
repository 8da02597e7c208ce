package consumer

import "testing"

func TestToolInstallationSpec(t *testing.T) {
	spec := ToolInstallationSpec("m-1")

	if spec.Stream != "TOOL_INSTALLATION" {
		t.Errorf("Stream = %q, want TOOL_INSTALLATION", spec.Stream)
	}
	if spec.FilterSubject != "machine.m-1.tool-installation" {
		t.Errorf("FilterSubject = %q", spec.FilterSubject)
	}
	if spec.DurableName != "machine_m-1_tool-installation_consumer" {
		t.Errorf("DurableName = %q", spec.DurableName)
	}
}

func TestClientUpdateSpecUsesBroadcastFilterSubject(t *testing.T) {
	specA := ClientUpdateSpec("m-1")
	specB := ClientUpdateSpec("m-2")

	if specA.FilterSubject != "machine.all.client-update" {
		t.Errorf("FilterSubject = %q, want the shared broadcast subject", specA.FilterSubject)
	}
	if specA.FilterSubject != specB.FilterSubject {
		t.Error("every machine must filter on the same broadcast subject")
	}
	if specA.DurableName == specB.DurableName {
		t.Error("each machine must get its own durable consumer name")
	}
	if specA.DeliverSubject == specB.DeliverSubject {
		t.Error("each machine must get its own deliver subject")
	}
}

func TestToolInstallationAndClientUpdateSpecsAreIndependent(t *testing.T) {
	install := ToolInstallationSpec("m-1")
	update := ClientUpdateSpec("m-1")

	if install.Stream == update.Stream {
		t.Error("tool installation and client update must use distinct streams")
	}
	if install.AckWait == update.AckWait {
		t.Error("the two consumers carry different expected handler durations and should not share an AckWait by coincidence")
	}
}
