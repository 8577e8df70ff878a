package models

import (
	"encoding/json"
	"testing"
)

func TestRemoteFileDecode(t *testing.T) {
	raw := `[{"id":"abc","name":"a.txt","size":11,"mimeType":"text/plain","path":"docs/a.txt","completed":true},
	         {"id":"def","name":"b.bin","size":0,"mimeType":"application/octet-stream","completed":false}]`

	var files []RemoteFile
	if err := json.Unmarshal([]byte(raw), &files); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files", len(files))
	}
	if files[0].DisplayName() != "docs/a.txt" || !files[0].Completed || files[0].Size != 11 {
		t.Errorf("unexpected %+v", files[0])
	}
	if files[1].DisplayName() != "b.bin" || files[1].Completed {
		t.Errorf("unexpected %+v", files[1])
	}
}

func TestParseByteRange(t *testing.T) {
	tests := []struct {
		in      string
		want    ByteRange
		header  string
		wantErr bool
	}{
		{in: "0-99", want: ByteRange{0, 99}, header: "bytes=0-99"},
		{in: "100-", want: ByteRange{100, -1}, header: "bytes=100-"},
		{in: " 5-5 ", want: ByteRange{5, 5}, header: "bytes=5-5"},
		{in: "10", wantErr: true},
		{in: "-10", wantErr: true},
		{in: "10-5", wantErr: true},
		{in: "a-b", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseByteRange(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseByteRange(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseByteRange(%q) = %+v, %v", tt.in, got, err)
			continue
		}
		if got.Header() != tt.header {
			t.Errorf("Header() = %q, want %q", got.Header(), tt.header)
		}
	}
}
