package federated

import (
	"math"
	"math/rand"
)

// laplace draws Laplace(sensitivity/epsilon) noise from a seeded source.
// The seed is persisted on the round row, which is what lets an audit
// replay the perturbation bit for bit. An epsilon of 0 disables noise
// entirely; the generator still exists so the draw sequence stays
// aligned between original and replay.
type laplace struct {
	scale float64
	rng   *rand.Rand
}

func newLaplace(sensitivity, epsilon float64, seed int64) *laplace {
	l := &laplace{rng: rand.New(rand.NewSource(seed))}
	if epsilon > 0 {
		l.scale = sensitivity / epsilon
	}
	return l
}

// sample draws by inverse CDF: X = -b * sgn(u) * ln(1 - 2|u|) for u
// uniform on (-1/2, 1/2). The guard loop discards the measure-zero edge
// where the log argument collapses to zero.
func (l *laplace) sample() float64 {
	if l.scale == 0 {
		return 0
	}
	for {
		u := l.rng.Float64() - 0.5
		mag := 1 - 2*math.Abs(u)
		if mag <= 0 {
			continue
		}
		return -l.scale * math.Copysign(math.Log(mag), u)
	}
}
