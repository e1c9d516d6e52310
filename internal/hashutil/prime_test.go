package hashutil

import "testing"

func TestIsPrime(t *testing.T) {
	primes := map[int]bool{
		-1: false, 0: false, 1: false, 2: true, 3: true, 4: false,
		5: true, 9: false, 11: true, 25: false, 97: true,
	}
	for n, want := range primes {
		if got := IsPrime(n); got != want {
			t.Errorf("IsPrime(%d) = %v, want %v", n, got, want)
		}
	}
}

func TestNextPrimeGreaterThanInvariant(t *testing.T) {
	for _, x := range []int{0, 1, 2, 10, 97, 1000} {
		p := NextPrimeGreaterThan(x)
		if p <= x {
			t.Fatalf("NextPrimeGreaterThan(%d) = %d, want > %d", x, p, x)
		}
		if !IsPrime(p) {
			t.Fatalf("NextPrimeGreaterThan(%d) = %d, not prime", x, p)
		}
		for k := x + 1; k < p; k++ {
			if IsPrime(k) {
				t.Fatalf("NextPrimeGreaterThan(%d) = %d, but %d is prime and in between", x, p, k)
			}
		}
	}
}

func TestTableSizeFromSpecExample(t *testing.T) {
	// spec.md §8 scenario 5: l=5 -> s = next_prime_greater_than(10) = 11.
	if s := TableSize(5); s != 11 {
		t.Fatalf("TableSize(5) = %d, want 11", s)
	}
}

func TestPlaceFromSpecExample(t *testing.T) {
	// pos = 10120412 mod 11 = 5 (11 * 920037 = 10120407); id = 5 mod 3 = 2.
	pos, id := Place(10120412, 11, 3)
	if pos != 5 || id != 2 {
		t.Fatalf("Place = (%d, %d), want (5, 2)", pos, id)
	}
}
