package main

import "testing"

func TestLockKey(t *testing.T) {
	cases := []struct{ prefix, env, want string }{
		{"lo", "prod", "lo:cron-worker:lock:prod"},
		{" staging: ", "", "staging:cron-worker:lock:local"},
		{"", "dev", "lo:cron-worker:lock:dev"},
	}
	for _, tc := range cases {
		if got := lockKey(tc.prefix, tc.env); got != tc.want {
			t.Fatalf("lockKey(%q, %q) = %q, want %q", tc.prefix, tc.env, got, tc.want)
		}
	}
}
