package nifi

import "testing"

func TestClassifyWriteFailure(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   writeOutcome
	}{
		{
			name:   "409 is retryable",
			status: 409,
			body:   "",
			want:   writeRetryable,
		},
		{
			name:   "stale revision message is retryable regardless of status",
			status: 400,
			body:   "[abc] is not the most up-to-date revision. This component appears to have been modified",
			want:   writeRetryable,
		},
		{
			name:   "stale revision message matches case-insensitively",
			status: 400,
			body:   "[abc] is NOT the MOST up-to-date REVISION",
			want:   writeRetryable,
		},
		{
			name:   "plain 400 is fatal",
			status: 400,
			body:   "processor validation failed",
			want:   writeFatal,
		},
		{
			name:   "401 is fatal",
			status: 401,
			body:   "unauthorized",
			want:   writeFatal,
		},
		{
			name:   "500 is fatal",
			status: 500,
			body:   "internal error",
			want:   writeFatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyWriteFailure(tt.status, tt.body); got != tt.want {
				t.Errorf("classifyWriteFailure(%d, %q) = %v, want %v",
					tt.status, tt.body, got, tt.want)
			}
		})
	}
}
