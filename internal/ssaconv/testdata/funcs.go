package funcs

func hint_concrete(x int) int { return x }

func hint_variable(x int) int { return x }

func sum(n int) int {
	s := 0
	for i := 0; i < n; i++ {
		s += i
	}
	return s
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func power(x, n int) int {
	n = hint_concrete(n)
	r := 1
	for n > 0 {
		r *= x
		n--
	}
	return r
}

type pair struct {
	a, b int
}

func swapSum(x, y int) int {
	p := &pair{a: x, b: y}
	p.a, p.b = p.b, p.a
	return p.a*10 + p.b
}

type window struct {
	vals [4]int
	n    int
}

func fill(x int) int {
	w := &window{}
	for i := 0; i < 4; i++ {
		w.vals[i] = x + i
		w.n++
	}
	return w.vals[3] + w.n
}

type node struct {
	val  int
	next *node
}

func chain(x int) int {
	n := &node{val: x}
	m := &node{val: 1, next: n}
	total := 0
	for p := m; p != nil; p = p.next {
		total += p.val
	}
	return total
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func scaled(k, x int) int {
	c := hint_concrete(k)
	return x*c + hint_variable(c)
}
