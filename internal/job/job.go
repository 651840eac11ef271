// Package job defines the identifiers shared between the job queue,
// the download pool and the downloader workers.
package job

// Key identifies one fetch: a configured entry name paired with the
// filename requested from it.
type Key struct {
	Entry    string
	FileName string
}

func (k Key) String() string {
	return k.Entry + "/" + k.FileName
}

// Target is the data associated with a pending or in-flight job: where to
// fetch it from and where to put it on disk.
type Target struct {
	URL  string
	Path string
}
