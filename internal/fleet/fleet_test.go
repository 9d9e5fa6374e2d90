package fleet

import "testing"

func TestEndpointKeyAndAddress(t *testing.T) {
	ep := Endpoint{Host: "kafka-1", Port: 9092, Service: "kafka"}

	if got := ep.Key().String(); got != "kafka-1:kafka" {
		t.Fatalf("Key() = %q, want kafka-1:kafka", got)
	}
	if got := ep.Address(); got != "kafka-1:9092" {
		t.Fatalf("Address() = %q, want kafka-1:9092", got)
	}

	v6 := Endpoint{Host: "::1", Port: 2181, Service: "zookeeper"}
	if got := v6.Address(); got != "[::1]:2181" {
		t.Fatalf("Address() = %q, want [::1]:2181", got)
	}
}

func TestExecutorKindValid(t *testing.T) {
	for _, kind := range []ExecutorKind{ExecutorLocal, ExecutorSSH, ExecutorDocker} {
		if !kind.Valid() {
			t.Errorf("expected %q to be valid", kind)
		}
	}
	if ExecutorKind("winrm").Valid() {
		t.Errorf("expected winrm to be invalid")
	}
}
