package format

import (
	"testing"
	"time"
)

func TestAddr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		host string
		port int
		want string
	}{
		{
			name: "IPv4 address",
			host: "192.168.1.1",
			port: 8080,
			want: "192.168.1.1:8080",
		},
		{
			name: "IPv4 localhost",
			host: "127.0.0.1",
			port: 80,
			want: "127.0.0.1:80",
		},
		{
			name: "hostname",
			host: "example.com",
			port: 443,
			want: "example.com:443",
		},
		{
			name: "IPv6 address",
			host: "::1",
			port: 8080,
			want: "[::1]:8080",
		},
		{
			name: "IPv6 full address",
			host: "2001:0db8:85a3:0000:0000:8a2e:0370:7334",
			port: 443,
			want: "[2001:0db8:85a3:0000:0000:8a2e:0370:7334]:443",
		},
		{
			name: "IPv6 compressed",
			host: "2001:db8::1",
			port: 80,
			want: "[2001:db8::1]:80",
		},
		{
			name: "wildcard",
			host: "*",
			port: 8080,
			want: "*:8080",
		},
		{
			name: "empty host",
			host: "",
			port: 8080,
			want: ":8080",
		},
		{
			name: "port 1",
			host: "localhost",
			port: 1,
			want: "localhost:1",
		},
		{
			name: "port 65535",
			host: "localhost",
			port: 65535,
			want: "localhost:65535",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Addr(tc.host, tc.port)
			if got != tc.want {
				t.Errorf("Addr(%q, %d) = %q, want %q", tc.host, tc.port, got, tc.want)
			}
		})
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		d    time.Duration
		want string
	}{
		{
			name: "zero",
			d:    0,
			want: "0s",
		},
		{
			name: "negative clamps to zero",
			d:    -5 * time.Second,
			want: "0s",
		},
		{
			name: "sub-second rounds",
			d:    1400 * time.Millisecond,
			want: "1s",
		},
		{
			name: "seconds only",
			d:    42 * time.Second,
			want: "42s",
		},
		{
			name: "minutes and seconds",
			d:    3*time.Minute + 7*time.Second,
			want: "3m 7s",
		},
		{
			name: "hours carry zero minutes",
			d:    2 * time.Hour,
			want: "2h 0m 0s",
		},
		{
			name: "full spread",
			d:    3*24*time.Hour + 2*time.Hour + 14*time.Minute + 9*time.Second,
			want: "3d 2h 14m 9s",
		},
		{
			name: "days carry zero hours",
			d:    24*time.Hour + 30*time.Second,
			want: "1d 0h 0m 30s",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Duration(tc.d)
			if got != tc.want {
				t.Errorf("Duration(%v) = %q, want %q", tc.d, got, tc.want)
			}
		})
	}
}

func TestBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		n    int64
		want string
	}{
		{
			name: "bytes",
			n:    512,
			want: "512 B",
		},
		{
			name: "boundary stays bytes",
			n:    1023,
			want: "1023 B",
		},
		{
			name: "kibibytes",
			n:    1536,
			want: "1.5 KiB",
		},
		{
			name: "mebibytes",
			n:    5 * 1024 * 1024,
			want: "5.0 MiB",
		},
		{
			name: "gibibytes",
			n:    3*1024*1024*1024 + 512*1024*1024,
			want: "3.5 GiB",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Bytes(tc.n)
			if got != tc.want {
				t.Errorf("Bytes(%d) = %q, want %q", tc.n, got, tc.want)
			}
		})
	}
}
