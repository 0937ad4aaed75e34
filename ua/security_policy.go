package ua

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"hash"
)

// SecurityPolicyURIs
const (
	SecurityPolicyURINone                = "http://opcfoundation.org/UA/SecurityPolicy#None"
	SecurityPolicyURIBasic128Rsa15       = "http://opcfoundation.org/UA/SecurityPolicy#Basic128Rsa15"
	SecurityPolicyURIBasic256            = "http://opcfoundation.org/UA/SecurityPolicy#Basic256"
	SecurityPolicyURIBasic256Sha256      = "http://opcfoundation.org/UA/SecurityPolicy#Basic256Sha256"
	SecurityPolicyURIAes128Sha256RsaOaep = "http://opcfoundation.org/UA/SecurityPolicy#Aes128_Sha256_RsaOaep"
	SecurityPolicyURIAes256Sha256RsaPss  = "http://opcfoundation.org/UA/SecurityPolicy#Aes256_Sha256_RsaPss"
)

// SecurityPolicy maps a policy URI to the concrete algorithms and sizes the
// secure channel uses. The asymmetric operations cover channel open, the
// symmetric ones cover steady-state messages.
type SecurityPolicy interface {
	PolicyURI() string
	RSASign(priv *rsa.PrivateKey, plainText []byte) ([]byte, error)
	RSAVerify(pub *rsa.PublicKey, plainText, signature []byte) error
	RSAEncrypt(pub *rsa.PublicKey, plainText []byte) ([]byte, error)
	RSADecrypt(priv *rsa.PrivateKey, cipherText []byte) ([]byte, error)
	SymHMACFactory(key []byte) hash.Hash
	RSAPaddingSize() int
	SymSignatureSize() int
	SymSignatureKeySize() int
	SymEncryptionBlockSize() int
	SymEncryptionKeySize() int
}

// rsaSignScheme selects the signature algorithm a policy applies during
// channel open.
type rsaSignScheme int

const (
	rsaSignNone rsaSignScheme = iota
	rsaSignPKCS1v15SHA1
	rsaSignPKCS1v15SHA256
	rsaSignPSSSHA256
)

// rsaEncryptScheme selects the encryption algorithm a policy applies during
// channel open.
type rsaEncryptScheme int

const (
	rsaEncryptNone rsaEncryptScheme = iota
	rsaEncryptPKCS1v15
	rsaEncryptOAEPSHA1
	rsaEncryptOAEPSHA256
)

// policy is one row of the policy table. All sizes are in bytes; a nil
// symHash means the policy carries no symmetric algorithms at all.
type policy struct {
	uri                    string
	signScheme             rsaSignScheme
	encryptScheme          rsaEncryptScheme
	symHash                func() hash.Hash
	rsaPaddingSize         int
	symSignatureSize       int
	symSignatureKeySize    int
	symEncryptionKeySize   int
	symEncryptionBlockSize int
}

// The standard policies. Handles are exported so callers can name a policy
// directly; PolicyForURI resolves the negotiated URI at channel open.
var (
	PolicyNone SecurityPolicy = &policy{
		uri:                    SecurityPolicyURINone,
		symEncryptionBlockSize: 1,
	}
	PolicyBasic128Rsa15 SecurityPolicy = &policy{
		uri:                    SecurityPolicyURIBasic128Rsa15,
		signScheme:             rsaSignPKCS1v15SHA1,
		encryptScheme:          rsaEncryptPKCS1v15,
		symHash:                sha1.New,
		rsaPaddingSize:         11,
		symSignatureSize:       20,
		symSignatureKeySize:    16,
		symEncryptionKeySize:   16,
		symEncryptionBlockSize: 16,
	}
	PolicyBasic256 SecurityPolicy = &policy{
		uri:                    SecurityPolicyURIBasic256,
		signScheme:             rsaSignPKCS1v15SHA1,
		encryptScheme:          rsaEncryptOAEPSHA1,
		symHash:                sha1.New,
		rsaPaddingSize:         42,
		symSignatureSize:       20,
		symSignatureKeySize:    24,
		symEncryptionKeySize:   32,
		symEncryptionBlockSize: 16,
	}
	PolicyBasic256Sha256 SecurityPolicy = &policy{
		uri:                    SecurityPolicyURIBasic256Sha256,
		signScheme:             rsaSignPKCS1v15SHA256,
		encryptScheme:          rsaEncryptOAEPSHA1,
		symHash:                sha256.New,
		rsaPaddingSize:         42,
		symSignatureSize:       32,
		symSignatureKeySize:    32,
		symEncryptionKeySize:   32,
		symEncryptionBlockSize: 16,
	}
	PolicyAes128Sha256RsaOaep SecurityPolicy = &policy{
		uri:                    SecurityPolicyURIAes128Sha256RsaOaep,
		signScheme:             rsaSignPKCS1v15SHA256,
		encryptScheme:          rsaEncryptOAEPSHA1,
		symHash:                sha256.New,
		rsaPaddingSize:         42,
		symSignatureSize:       32,
		symSignatureKeySize:    32,
		symEncryptionKeySize:   16,
		symEncryptionBlockSize: 16,
	}
	PolicyAes256Sha256RsaPss SecurityPolicy = &policy{
		uri:                    SecurityPolicyURIAes256Sha256RsaPss,
		signScheme:             rsaSignPSSSHA256,
		encryptScheme:          rsaEncryptOAEPSHA256,
		symHash:                sha256.New,
		rsaPaddingSize:         66,
		symSignatureSize:       32,
		symSignatureKeySize:    32,
		symEncryptionKeySize:   32,
		symEncryptionBlockSize: 16,
	}
)

var policiesByURI = map[string]SecurityPolicy{
	SecurityPolicyURINone:                PolicyNone,
	SecurityPolicyURIBasic128Rsa15:       PolicyBasic128Rsa15,
	SecurityPolicyURIBasic256:            PolicyBasic256,
	SecurityPolicyURIBasic256Sha256:      PolicyBasic256Sha256,
	SecurityPolicyURIAes128Sha256RsaOaep: PolicyAes128Sha256RsaOaep,
	SecurityPolicyURIAes256Sha256RsaPss:  PolicyAes256Sha256RsaPss,
}

// PolicyForURI returns the SecurityPolicy registered for uri.
func PolicyForURI(uri string) (SecurityPolicy, error) {
	if p, ok := policiesByURI[uri]; ok {
		return p, nil
	}
	return nil, BadSecurityPolicyRejected
}

// PolicyURI returns the URI the policy was negotiated under.
func (p *policy) PolicyURI() string { return p.uri }

// RSASign signs plainText with the policy's asymmetric signature algorithm.
func (p *policy) RSASign(priv *rsa.PrivateKey, plainText []byte) ([]byte, error) {
	switch p.signScheme {
	case rsaSignPKCS1v15SHA1:
		hashed := sha1.Sum(plainText)
		return rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA1, hashed[:])
	case rsaSignPKCS1v15SHA256:
		hashed := sha256.Sum256(plainText)
		return rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, hashed[:])
	case rsaSignPSSSHA256:
		hashed := sha256.Sum256(plainText)
		return rsa.SignPSS(rand.Reader, priv, crypto.SHA256, hashed[:], &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	default:
		return nil, BadSecurityPolicyRejected
	}
}

// RSAVerify checks signature over plainText with the matching algorithm.
func (p *policy) RSAVerify(pub *rsa.PublicKey, plainText, signature []byte) error {
	switch p.signScheme {
	case rsaSignPKCS1v15SHA1:
		hashed := sha1.Sum(plainText)
		return rsa.VerifyPKCS1v15(pub, crypto.SHA1, hashed[:], signature)
	case rsaSignPKCS1v15SHA256:
		hashed := sha256.Sum256(plainText)
		return rsa.VerifyPKCS1v15(pub, crypto.SHA256, hashed[:], signature)
	case rsaSignPSSSHA256:
		hashed := sha256.Sum256(plainText)
		return rsa.VerifyPSS(pub, crypto.SHA256, hashed[:], signature, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	default:
		return BadSecurityPolicyRejected
	}
}

// RSAEncrypt encrypts one plaintext block for the holder of pub.
func (p *policy) RSAEncrypt(pub *rsa.PublicKey, plainText []byte) ([]byte, error) {
	switch p.encryptScheme {
	case rsaEncryptPKCS1v15:
		return rsa.EncryptPKCS1v15(rand.Reader, pub, plainText)
	case rsaEncryptOAEPSHA1:
		return rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, plainText, []byte{})
	case rsaEncryptOAEPSHA256:
		return rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plainText, []byte{})
	default:
		return nil, BadSecurityPolicyRejected
	}
}

// RSADecrypt decrypts one ciphertext block with priv.
func (p *policy) RSADecrypt(priv *rsa.PrivateKey, cipherText []byte) ([]byte, error) {
	switch p.encryptScheme {
	case rsaEncryptPKCS1v15:
		return rsa.DecryptPKCS1v15(rand.Reader, priv, cipherText)
	case rsaEncryptOAEPSHA1:
		return rsa.DecryptOAEP(sha1.New(), rand.Reader, priv, cipherText, []byte{})
	case rsaEncryptOAEPSHA256:
		return rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, cipherText, []byte{})
	default:
		return nil, BadSecurityPolicyRejected
	}
}

// SymHMACFactory returns a keyed HMAC of the policy's symmetric signature
// algorithm, or nil for policy None.
func (p *policy) SymHMACFactory(key []byte) hash.Hash {
	if p.symHash == nil {
		return nil
	}
	return hmac.New(p.symHash, key)
}

// RSAPaddingSize is the per-block overhead of the asymmetric encryption
// scheme: one plaintext block is the key size minus this.
func (p *policy) RSAPaddingSize() int { return p.rsaPaddingSize }

// SymSignatureSize is the size of the symmetric HMAC on the wire.
func (p *policy) SymSignatureSize() int { return p.symSignatureSize }

// SymSignatureKeySize is the derived signing key length.
func (p *policy) SymSignatureKeySize() int { return p.symSignatureKeySize }

// SymEncryptionBlockSize is the AES block size, or 1 for policy None.
func (p *policy) SymEncryptionBlockSize() int { return p.symEncryptionBlockSize }

// SymEncryptionKeySize is the derived encryption key length.
func (p *policy) SymEncryptionKeySize() int { return p.symEncryptionKeySize }
