package store

type storeError string

const ErrNotFound = storeError("not found")

func (e storeError) Error() string {
	return string(e)
}
