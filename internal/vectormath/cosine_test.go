package vectormath

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func TestCosineSimilaritySymmetric(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 50; i++ {
		a := randomVector(rng, 32)
		b := randomVector(rng, 32)

		ab, err := CosineSimilarity(a, b)
		if err != nil {
			t.Fatalf("CosineSimilarity(a,b) failed: %v", err)
		}
		ba, err := CosineSimilarity(b, a)
		if err != nil {
			t.Fatalf("CosineSimilarity(b,a) failed: %v", err)
		}

		if math.Abs(ab-ba) > 1e-12 {
			t.Fatalf("similarity not symmetric: %v vs %v", ab, ba)
		}
	}
}

func TestCosineSimilaritySelfIsOne(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 20; i++ {
		a := randomVector(rng, 64)
		got, err := CosineSimilarity(a, a)
		if err != nil {
			t.Fatalf("CosineSimilarity(a,a) failed: %v", err)
		}
		if math.Abs(got-1.0) > 1e-6 {
			t.Fatalf("self-similarity = %v, want 1.0", got)
		}
	}
}

func TestCosineSimilarityZeroVector(t *testing.T) {
	zero := make([]float32, 8)
	a := []float32{1, 2, 3, 4, 5, 6, 7, 8}

	got, err := CosineSimilarity(zero, a)
	if err != nil {
		t.Fatalf("CosineSimilarity failed: %v", err)
	}
	if got != 0 {
		t.Errorf("similarity with zero vector = %v, want 0", got)
	}

	got, err = CosineSimilarity(zero, zero)
	if err != nil {
		t.Fatalf("CosineSimilarity failed: %v", err)
	}
	if got != 0 {
		t.Errorf("similarity of two zero vectors = %v, want 0", got)
	}
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	_, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("got %v, want ErrDimensionMismatch", err)
	}
}

func TestCosineSimilarityOpposite(t *testing.T) {
	a := []float32{1, 0, 2}
	b := []float32{-1, 0, -2}

	got, err := CosineSimilarity(a, b)
	if err != nil {
		t.Fatalf("CosineSimilarity failed: %v", err)
	}
	if math.Abs(got-(-1.0)) > 1e-6 {
		t.Errorf("opposite vectors similarity = %v, want -1.0", got)
	}
}

func randomVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = rng.Float32()*2 - 1
	}
	return v
}
