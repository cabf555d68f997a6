package fifo

type bufferError string

var _ error = bufferError("")

func (err bufferError) Error() string {
	return string(err)
}

const ErrEmpty = bufferError("buffer is empty")
