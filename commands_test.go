package smb2

import "testing"

func TestCommandName(t *testing.T) {
	tests := []struct {
		cmd  uint16
		want string
	}{
		{CmdNegotiate, "NEGOTIATE"},
		{CmdSessionSetup, "SESSION_SETUP"},
		{CmdCreate, "CREATE"},
		{CmdEcho, "ECHO"},
		{CmdOplockBreak, "OPLOCK_BREAK"},
		{0x00FF, "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := CommandName(tt.cmd); got != tt.want {
			t.Errorf("CommandName(%#x) = %q, want %q", tt.cmd, got, tt.want)
		}
	}
}

func TestIsValidCommand(t *testing.T) {
	if !IsValidCommand(CmdOplockBreak) {
		t.Error("IsValidCommand(CmdOplockBreak) = false, want true")
	}
	if IsValidCommand(0x00FF) {
		t.Error("IsValidCommand(0x00FF) = true, want false")
	}
}
