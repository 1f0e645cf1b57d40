package sdbustest

import (
	"errors"
	"testing"

	"github.com/allisonkarlitskaya/sdbus"
)

func TestMessageSignatureAccrual(t *testing.T) {
	m := &Message{}
	m.AppendBasic('s', "x")
	m.OpenContainer('a', "i")
	m.AppendBasic('i', int32(1))
	m.CloseContainer()
	m.OpenContainer('r', "yb")
	m.AppendBasic('y', uint8(2))
	m.AppendBasic('b', true)
	m.CloseContainer()
	m.AppendBytes([]byte{1})
	m.OpenContainer('v', "u")
	m.AppendBasic('u', uint32(3))
	m.CloseContainer()

	if got, want := m.Signature(), "sai(yb)ayv"; got != want {
		t.Errorf("Signature() = %q, want %q", got, want)
	}
}

func TestMessageReadBack(t *testing.T) {
	m := &Message{}
	m.AppendBasic('i', int32(7))
	m.OpenContainer('a', "s")
	m.AppendBasic('s', "a")
	m.AppendBasic('s', "b")
	m.CloseContainer()

	if v, err := m.ReadBasic('i'); err != nil || v != int32(7) {
		t.Fatalf("ReadBasic('i') = %v, %v", v, err)
	}
	if code, contents, err := m.PeekType(); err != nil || code != 'a' || contents != "s" {
		t.Fatalf("PeekType = %q %q %v", code, contents, err)
	}
	if err := m.EnterContainer('a', "s"); err != nil {
		t.Fatal(err)
	}
	if v, _ := m.ReadBasic('s'); v != "a" {
		t.Errorf("first element = %v", v)
	}
	if v, _ := m.ReadBasic('s'); v != "b" {
		t.Errorf("second element = %v", v)
	}
	if _, err := m.ReadBasic('s'); !errors.Is(err, sdbus.ErrNoMoreItems) {
		t.Errorf("read past end of array = %v, want ErrNoMoreItems", err)
	}
	if err := m.ExitContainer(); err != nil {
		t.Fatal(err)
	}
	if _, _, err := m.PeekType(); !errors.Is(err, sdbus.ErrNoMoreItems) {
		t.Errorf("peek past end of body = %v, want ErrNoMoreItems", err)
	}

	if err := m.Rewind(); err != nil {
		t.Fatal(err)
	}
	if v, err := m.ReadBasic('i'); err != nil || v != int32(7) {
		t.Errorf("after Rewind, ReadBasic('i') = %v, %v", v, err)
	}
}

func TestMessageExitSkipsUnread(t *testing.T) {
	m := &Message{}
	m.OpenContainer('a', "(ii)")
	m.OpenContainer('r', "ii")
	m.AppendBasic('i', int32(1))
	m.AppendBasic('i', int32(2))
	m.CloseContainer()
	m.CloseContainer()
	m.AppendBasic('s', "after")

	if err := m.EnterContainer('a', ""); err != nil {
		t.Fatal(err)
	}
	// Leave without reading the struct inside.
	if err := m.ExitContainer(); err != nil {
		t.Fatal(err)
	}
	if v, err := m.ReadBasic('s'); err != nil || v != "after" {
		t.Errorf("value after skipped container = %v, %v", v, err)
	}
}

func TestMessageTypeMismatch(t *testing.T) {
	m := &Message{}
	m.AppendBasic('i', int32(1))
	if _, err := m.ReadBasic('s'); err == nil || errors.Is(err, sdbus.ErrNoMoreItems) {
		t.Errorf("ReadBasic with wrong code = %v, want a type mismatch error", err)
	}
	if err := m.Rewind(); err != nil {
		t.Fatal(err)
	}
	if err := m.EnterContainer('a', ""); err == nil {
		t.Error("EnterContainer on a basic value succeeded")
	}
}
