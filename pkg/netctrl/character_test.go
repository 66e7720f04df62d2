package netctrl

import "testing"

func newMasterCharacter(t *testing.T) *CharacterController {
	t.Helper()
	buf := newTestBuffer()
	cfg := testConfig()
	m, err := NewMasterController(cfg, buf, &mockCallbacks{}, &recordingMasterSender{})
	if err != nil {
		t.Fatal(err)
	}
	return NewMasterRole(m)
}

func newServerCharacter(t *testing.T) *CharacterController {
	t.Helper()
	buf := newTestBuffer()
	cfg := testConfig()
	s, err := NewServerController(cfg, buf, &mockCallbacks{}, newRecordingServerSender())
	if err != nil {
		t.Fatal(err)
	}
	return NewServerRole(s)
}

func newPuppetCharacter(t *testing.T) *CharacterController {
	t.Helper()
	buf := newTestBuffer()
	cfg := testConfig()
	p, err := NewPuppetController(cfg, buf, &mockCallbacks{}, &recordingPuppetSignals{})
	if err != nil {
		t.Fatal(err)
	}
	return NewPuppetRole(p)
}

func TestCharacterRoleReporting(t *testing.T) {
	if got := newMasterCharacter(t).Role(); got != RoleMaster {
		t.Errorf("Role() = %v, want RoleMaster", got)
	}
	if got := newServerCharacter(t).Role(); got != RoleServer {
		t.Errorf("Role() = %v, want RoleServer", got)
	}
	if got := newPuppetCharacter(t).Role(); got != RolePuppet {
		t.Errorf("Role() = %v, want RolePuppet", got)
	}
}

func TestCharacterReceiveSnapshotsRejectsMaster(t *testing.T) {
	c := newMasterCharacter(t)
	if err := c.ReceiveSnapshots([]byte{0, 0, 0, 0, 0}); err != ErrUnsupportedRole {
		t.Errorf("ReceiveSnapshots on Master = %v, want ErrUnsupportedRole", err)
	}
}

func TestCharacterReceiveSnapshotsAcceptsServerAndPuppet(t *testing.T) {
	if err := newServerCharacter(t).ReceiveSnapshots([]byte{0, 0, 0, 0, 0}); err != nil {
		t.Errorf("ReceiveSnapshots on Server = %v, want nil", err)
	}
	if err := newPuppetCharacter(t).ReceiveSnapshots([]byte{0, 0, 0, 0, 0}); err != nil {
		t.Errorf("ReceiveSnapshots on Puppet = %v, want nil", err)
	}
}

func TestCharacterReceiveStateRejectsServer(t *testing.T) {
	c := newServerCharacter(t)
	if err := c.ReceiveState(1, "x"); err != ErrUnsupportedRole {
		t.Errorf("ReceiveState on Server = %v, want ErrUnsupportedRole", err)
	}
}

func TestCharacterReceiveTickSpeedOnlyValidForMaster(t *testing.T) {
	if err := newMasterCharacter(t).ReceiveTickSpeed(10); err != nil {
		t.Errorf("ReceiveTickSpeed on Master = %v, want nil", err)
	}
	if err := newServerCharacter(t).ReceiveTickSpeed(10); err != ErrUnsupportedRole {
		t.Errorf("ReceiveTickSpeed on Server = %v, want ErrUnsupportedRole", err)
	}
	if err := newPuppetCharacter(t).ReceiveTickSpeed(10); err != ErrUnsupportedRole {
		t.Errorf("ReceiveTickSpeed on Puppet = %v, want ErrUnsupportedRole", err)
	}
}

func TestCharacterSetFlowOnlyValidForPuppet(t *testing.T) {
	if err := newPuppetCharacter(t).SetFlow(true); err != nil {
		t.Errorf("SetFlow on Puppet = %v, want nil", err)
	}
	if err := newMasterCharacter(t).SetFlow(true); err != ErrUnsupportedRole {
		t.Errorf("SetFlow on Master = %v, want ErrUnsupportedRole", err)
	}
	if err := newServerCharacter(t).SetFlow(true); err != ErrUnsupportedRole {
		t.Errorf("SetFlow on Server = %v, want ErrUnsupportedRole", err)
	}
}

func TestCharacterReplayRejectsServer(t *testing.T) {
	if err := newServerCharacter(t).Replay(1.0 / 60); err != ErrUnsupportedRole {
		t.Errorf("Replay on Server = %v, want ErrUnsupportedRole", err)
	}
	if err := newMasterCharacter(t).Replay(1.0 / 60); err != nil {
		t.Errorf("Replay on Master = %v, want nil", err)
	}
	if err := newPuppetCharacter(t).Replay(1.0 / 60); err != nil {
		t.Errorf("Replay on Puppet = %v, want nil", err)
	}
}

func TestCharacterAccessorsReturnOnlyOwnedController(t *testing.T) {
	mc := newMasterCharacter(t)
	if mc.Master() == nil || mc.Server() != nil || mc.Puppet() != nil {
		t.Errorf("Master role accessors: master=%v server=%v puppet=%v", mc.Master(), mc.Server(), mc.Puppet())
	}
	sc := newServerCharacter(t)
	if sc.Server() == nil || sc.Master() != nil || sc.Puppet() != nil {
		t.Errorf("Server role accessors: server=%v master=%v puppet=%v", sc.Server(), sc.Master(), sc.Puppet())
	}
	pc := newPuppetCharacter(t)
	if pc.Puppet() == nil || pc.Master() != nil || pc.Server() != nil {
		t.Errorf("Puppet role accessors: puppet=%v master=%v server=%v", pc.Puppet(), pc.Master(), pc.Server())
	}
}
