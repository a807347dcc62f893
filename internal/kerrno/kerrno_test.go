package kerrno

import "testing"

func TestIsError(t *testing.T) {
	cases := []struct {
		v    int64
		want bool
	}{
		{0, false},
		{1, false},
		{EFAULT.Value(), true},
		{-1, true},
	}
	for _, c := range cases {
		if got := IsError(c.v); got != c.want {
			t.Errorf("IsError(%d) = %v, want %v", c.v, got, c.want)
		}
	}
}

func TestErrnoValueIsNegative(t *testing.T) {
	for _, e := range []Errno{EFAULT, EINVAL, ENOSYS, ESRCH, ENOENT, EBUSY, ENOMEM} {
		if e.Value() >= 0 {
			t.Errorf("errno %v has non-negative value %d", e, e.Value())
		}
		if e.Error() == "" {
			t.Errorf("errno %v has empty Error string", e)
		}
	}
}
