package engine

import (
	"fmt"
	"net"
	"testing"
)

func TestSetActiveRejectsWrongFieldCount(t *testing.T) {
	var d DataEndpoint
	if err := d.SetActive("1,2,3,4"); err == nil {
		t.Fatal("expected error for a 4-field PORT argument")
	}
	if d.Armed() {
		t.Fatal("endpoint armed after a rejected PORT argument")
	}
}

func TestSetActiveRejectsOutOfRangeOctet(t *testing.T) {
	var d DataEndpoint
	if err := d.SetActive("127,0,0,1,300,1"); err == nil {
		t.Fatal("expected error for an out-of-range field")
	}
}

func TestSetActiveParsesAddressAndPort(t *testing.T) {
	var d DataEndpoint
	if err := d.SetActive("127,0,0,1,4,1"); err != nil {
		t.Fatal(err)
	}
	if !d.Armed() {
		t.Fatal("endpoint not armed after a valid PORT argument")
	}
	want := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4<<8 | 1}
	if d.peerAddr.String() != want.String() {
		t.Fatalf("peerAddr = %v, want %v", d.peerAddr, want)
	}
}

func TestEnterPassiveThenAcceptRoundTrips(t *testing.T) {
	var d DataEndpoint
	port, err := d.EnterPassive(net.IPv4(127, 0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if !d.Armed() {
		t.Fatal("endpoint not armed after EnterPassive")
	}

	done := make(chan error, 1)
	go func() {
		conn, err := d.AcceptOrConnect()
		if err != nil {
			done <- err
			return
		}
		defer Dispose(conn)
		buf := make([]byte, 5)
		if _, err := conn.Read(buf); err != nil {
			done <- err
			return
		}
		if string(buf) != "hello" {
			done <- fmt.Errorf("payload = %q, want %q", buf, "hello")
			return
		}
		done <- nil
	}()

	client, err := net.Dial("tcp", (&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}).String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}

	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestClearDropsArmedState(t *testing.T) {
	var d DataEndpoint
	if _, err := d.EnterPassive(net.IPv4(127, 0, 0, 1)); err != nil {
		t.Fatal(err)
	}
	d.Clear()
	if d.Armed() {
		t.Fatal("endpoint still armed after Clear")
	}
}

func TestAcceptOrConnectWithoutArmingFails(t *testing.T) {
	var d DataEndpoint
	if _, err := d.AcceptOrConnect(); err != ErrDataNotArmed {
		t.Fatalf("got err=%v, want ErrDataNotArmed", err)
	}
}
