package bus

import (
	"context"
	"testing"
)

func TestMessageBus_PublishDelivers(t *testing.T) {
	b := NewMessageBus(2)
	if !b.Publish(context.Background(), Event{Kind: EventMessage, ChannelID: "c1"}) {
		t.Fatal("Publish returned false")
	}
	ev := <-b.Inbound
	if ev.ChannelID != "c1" {
		t.Errorf("ChannelID = %q, want c1", ev.ChannelID)
	}
}

func TestMessageBus_PublishCancelled(t *testing.T) {
	b := NewMessageBus(1)
	b.Inbound <- Event{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if b.Publish(ctx, Event{}) {
		t.Error("Publish should fail on a full bus with cancelled context")
	}
}

func TestCommand_PathAndOption(t *testing.T) {
	tests := []struct {
		cmd  *Command
		path string
	}{
		{nil, ""},
		{&Command{Name: "aceptar"}, "aceptar"},
		{&Command{Name: "ticket", Subcommand: "crear"}, "ticket crear"},
	}
	for _, tt := range tests {
		if got := tt.cmd.Path(); got != tt.path {
			t.Errorf("Path() = %q, want %q", got, tt.path)
		}
	}

	c := &Command{Name: "strike", Options: map[string]string{"motivo": "  spam "}}
	if got := c.Option("motivo"); got != "spam" {
		t.Errorf("Option(motivo) = %q, want spam", got)
	}
	if got := c.Option("missing"); got != "" {
		t.Errorf("Option(missing) = %q, want empty", got)
	}
}

func TestMember_NameAndRoles(t *testing.T) {
	m := Member{ID: "1", Username: "ana", RoleIDs: []string{"r1"}, RoleNames: []string{"Gerente"}}
	if m.Name() != "ana" {
		t.Errorf("Name = %q, want ana", m.Name())
	}
	m.DisplayName = "Ana G"
	if m.Name() != "Ana G" {
		t.Errorf("Name = %q, want Ana G", m.Name())
	}
	if m.Mention() != "<@1>" {
		t.Errorf("Mention = %q", m.Mention())
	}
	if roles := m.Roles(); len(roles) != 2 || roles[0] != "r1" || roles[1] != "Gerente" {
		t.Errorf("Roles = %v", roles)
	}
}
