package crypto

import (
	"errors"
	"math/big"
)

// ErrFactorizationFailed means Pollard's rho could not split pq within the retry budget. pq is supplied by the server
// and is always the product of two distinct primes under 2^63, so this
// should never trigger against a conforming server.
var ErrFactorizationFailed = errors.New("crypto: could not factorize pq")

const factorizeMaxRounds = 32

// FactorizePQ splits the server-supplied pq into its two prime factors p < q
// using Pollard's rho algorithm with Floyd's tortoise-and-hare cycle
// detection, the same family of approach MTProto clients have used since the original Telegram
// documentation's reference implementation. pq must fit in a uint64; the
// protocol only ever sends an 8-byte pq.
func FactorizePQ(pq uint64) (p, q uint64, err error) {
	if pq < 2 {
		return 0, 0, ErrFactorizationFailed
	}
	if pq%2 == 0 {
		return 2, pq / 2, nil
	}

	n := new(big.Int).SetUint64(pq)
	for round := 0; round < factorizeMaxRounds; round++ {
		c := big.NewInt(int64(round + 1))
		factor := pollardBrent(n, c)
		if factor != nil && factor.Cmp(n) != 0 && factor.Sign() > 0 {
			p64 := factor.Uint64()
			q64 := pq / p64
			if p64*q64 == pq {
				if p64 > q64 {
					p64, q64 = q64, p64
				}
				return p64, q64, nil
			}
		}
	}
	return 0, 0, ErrFactorizationFailed
}

// pollardBrent runs Pollard's rho search for a nontrivial factor of n, using
// f(x) = x^2 + c mod n and Floyd's cycle detection (x advances one step per
// iteration, y two); despite its name it does not use Brent's variant. It
// returns nil if this particular c didn't find one within the internal
// iteration budget; FactorizePQ retries with a new c.
func pollardBrent(n, c *big.Int) *big.Int {
	if n.Bit(0) == 0 {
		return big.NewInt(2)
	}

	x := big.NewInt(2)
	y := big.NewInt(2)
	d := big.NewInt(1)

	one := big.NewInt(1)
	tmp := new(big.Int)

	f := func(v *big.Int) *big.Int {
		tmp.Mul(v, v)
		tmp.Add(tmp, c)
		tmp.Mod(tmp, n)
		return new(big.Int).Set(tmp)
	}

	const maxIterations = 1 << 20
	for iter := 0; iter < maxIterations && d.Cmp(one) == 0; iter++ {
		x = f(x)
		y = f(f(y))
		diff := new(big.Int).Sub(x, y)
		diff.Abs(diff)
		if diff.Sign() == 0 {
			return nil
		}
		d.GCD(nil, nil, diff, n)
	}
	if d.Cmp(one) == 0 || d.Cmp(n) == 0 {
		return nil
	}
	return d
}
