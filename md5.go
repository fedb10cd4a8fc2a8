package pgcore

import (
	"crypto/md5"
	"encoding/hex"
)

// md5Password computes the PostgreSQL MD5 password hash:
// "md5" + hex(md5(hex(md5(password+user)) + salt)).
func md5Password(user, password string, salt []byte) string {
	h1 := md5.Sum([]byte(password + user))
	hex1 := hex.EncodeToString(h1[:])
	h2 := md5.Sum(append([]byte(hex1), salt...))
	return "md5" + hex.EncodeToString(h2[:])
}
